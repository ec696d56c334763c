// Package api exposes the printer client over a local REST API.
package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chaz8081/bleprint/internal/ble"
	"github.com/chaz8081/bleprint/internal/receipt"
	"github.com/gofiber/fiber/v2"
)

// Printer is the client surface the API drives. *ble.Client satisfies it.
type Printer interface {
	Snapshot() ble.Snapshot
	ScanFor(ctx context.Context) ([]ble.PrinterCandidate, error)
	ConnectAndWait(ctx context.Context, id ble.PeripheralID) (ble.ConnectionState, error)
	Disconnect() error
	Print(ctx context.Context, markup string) (ble.PrintResult, error)
}

// Options configures the API.
type Options struct {
	Receipt        receipt.Options
	RequestTimeout time.Duration // upper bound for scan, connect and print requests
	Logger         ble.Logger
}

// API denotes a REST API for a printer
type API struct {
	printer Printer
	opts    Options
	log     ble.Logger
	router  *fiber.App
}

// New instantiates a new API and registers its routes.
func New(p Printer, opts Options) *API {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = ble.NullLogger{}
	}

	api := &API{
		printer: p,
		opts:    opts,
		log:     opts.Logger,
		router:  fiber.New(fiber.Config{DisableStartupMessage: true}),
	}

	api.router.Get("/status", api.handleStatus())
	api.router.Post("/scan", api.handleScan())
	api.router.Get("/printers", api.handlePrinters())
	api.router.Post("/connect", api.handleConnect())
	api.router.Post("/disconnect", api.handleDisconnect())
	api.router.Post("/print", api.handlePrint())
	api.router.Post("/print/order", api.handlePrintOrder())

	return api
}

// App returns the underlying fiber app.
func (api *API) App() *fiber.App {
	return api.router
}

// Listen serves the API on addr until Shutdown is called.
func (api *API) Listen(addr string) error {
	api.log.Infof("[API] listening on %s", addr)
	return api.router.Listen(addr)
}

// Shutdown stops the server, waiting for in-flight requests.
func (api *API) Shutdown() error {
	return api.router.Shutdown()
}

type statusResponse struct {
	State          string `json:"state"`
	Reason         string `json:"reason"`
	Peripheral     string `json:"peripheral,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Scanning       bool   `json:"scanning"`
	JobPending     bool   `json:"jobPending"`
	Candidates     int    `json:"candidates"`
}

func newStatus(s ble.Snapshot) statusResponse {
	return statusResponse{
		State:          s.State.Kind.String(),
		Reason:         s.State.Reason(),
		Peripheral:     string(s.State.Peripheral),
		Characteristic: s.State.Characteristic.UUID,
		Scanning:       s.Scanning,
		JobPending:     s.JobPending,
		Candidates:     len(s.Candidates),
	}
}

type printResponse struct {
	JobID      string `json:"jobId"`
	Bytes      int    `json:"bytes"`
	DurationMS int64  `json:"durationMs"`
}

func (api *API) handleStatus() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(newStatus(api.printer.Snapshot()))
	}
}

func (api *API) handleScan() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		ctx, cancel := api.requestContext(c)
		defer cancel()

		printers, err := api.printer.ScanFor(ctx)
		if err != nil {
			return api.fail(c, err)
		}
		return c.JSON(fiber.Map{"printers": printers})
	}
}

func (api *API) handlePrinters() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"printers": api.printer.Snapshot().Candidates})
	}
}

func (api *API) handleConnect() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var req struct {
			ID string `json:"id"`
		}
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if strings.TrimSpace(req.ID) == "" {
			return badRequest(c, "id is required")
		}

		ctx, cancel := api.requestContext(c)
		defer cancel()

		api.log.Infof("[API] connect to %s", req.ID)
		if _, err := api.printer.ConnectAndWait(ctx, ble.PeripheralID(req.ID)); err != nil {
			return api.fail(c, err)
		}
		return c.JSON(newStatus(api.printer.Snapshot()))
	}
}

func (api *API) handleDisconnect() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		if err := api.printer.Disconnect(); err != nil {
			return api.fail(c, err)
		}
		return c.JSON(newStatus(api.printer.Snapshot()))
	}
}

func (api *API) handlePrint() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		markup := string(c.Body())
		if markup == "" {
			return badRequest(c, "markup body is required")
		}
		return api.print(c, markup)
	}
}

func (api *API) handlePrintOrder() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var order receipt.Order
		if err := c.BodyParser(&order); err != nil {
			return badRequest(c, "invalid order: "+err.Error())
		}
		if err := order.Validate(); err != nil {
			return badRequest(c, err.Error())
		}
		return api.print(c, receipt.Render(order, api.opts.Receipt))
	}
}

func (api *API) print(c *fiber.Ctx, markup string) error {
	ctx, cancel := api.requestContext(c)
	defer cancel()

	res, err := api.printer.Print(ctx, markup)
	if err != nil {
		return api.fail(c, err)
	}
	return c.JSON(printResponse{
		JobID:      res.JobID,
		Bytes:      res.Bytes,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func (api *API) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), api.opts.RequestTimeout)
}

func (api *API) fail(c *fiber.Ctx, err error) error {
	status := statusCode(err)
	if status >= fiber.StatusInternalServerError {
		api.log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	} else {
		api.log.Warnf("[API] %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// statusCode maps client errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, ble.ErrNotConnected):
		return fiber.StatusConflict
	case errors.Is(err, ble.ErrJobInProgress):
		return fiber.StatusTooManyRequests
	case errors.Is(err, ble.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, ble.ErrConnect), errors.Is(err, ble.ErrNoCharacteristic), errors.Is(err, ble.ErrWriteFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, ble.ErrClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
