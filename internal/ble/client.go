package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/bleprint/internal/escpos"
)

// ClientOptions configures the printer client.
type ClientOptions struct {
	ScanTimeout    time.Duration // length of one scan window
	ConnectTimeout time.Duration // connect request to Ready
	WriteGrace     time.Duration // completion delay for writes without response
	EventBuffer    int           // capacity of the event queue
	Filter         DeviceFilter
	Logger         Logger
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		WriteGrace:     100 * time.Millisecond,
		EventBuffer:    64,
		Logger:         NullLogger{},
	}
}

// Snapshot is a read-only copy of the client state.
type Snapshot struct {
	State      ConnectionState
	Scanning   bool
	Candidates []PrinterCandidate
	JobPending bool

	scanGen uint64
}

// reply answers a command posted to the loop.
type reply struct {
	seq uint64
	err error
}

// Commands posted to the loop by the public API.
type cmdStartScan struct{ reply chan reply }

type cmdStopScan struct{ reply chan reply }

type cmdConnect struct {
	id    PeripheralID
	reply chan reply
}

type cmdDisconnect struct{ reply chan reply }

type cmdClose struct{ reply chan reply }

type cmdSubmit struct {
	markup string
	result chan PrintResult
	reply  chan reply
}

func (cmdStartScan) isEvent()  {}
func (cmdStopScan) isEvent()   {}
func (cmdConnect) isEvent()    {}
func (cmdDisconnect) isEvent() {}
func (cmdClose) isEvent()      {}
func (cmdSubmit) isEvent()     {}

// Client is the printer client. Hardware events and API calls are
// serialised on one goroutine, which alone owns the connection state
// machine, the scan session and the pending print job.
type Client struct {
	central Central
	opts    ClientOptions
	log     Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	machine *machine
	scan    scanSession
	job     *printJob
	writes  uint64 // token of the last write issued

	mu       sync.RWMutex
	snapshot Snapshot
	subs     map[int]chan Snapshot
	nextSub  int
}

// NewClient enables the adapter and starts the client loop. Call Close when
// done.
func NewClient(central Central, opts ClientOptions) (*Client, error) {
	defaults := DefaultClientOptions()
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = defaults.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.WriteGrace <= 0 {
		opts.WriteGrace = defaults.WriteGrace
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaults.EventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}

	c := &Client{
		central: central,
		opts:    opts,
		log:     opts.Logger,
		events:  make(chan Event, opts.EventBuffer),
		done:    make(chan struct{}),
		subs:    make(map[int]chan Snapshot),
	}
	c.machine = newMachine(central, c.log, opts.ConnectTimeout, c.post)
	c.snapshot = Snapshot{Candidates: []PrinterCandidate{}}

	if err := central.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}
	central.SetEventHandler(c.post)

	go c.run()
	return c, nil
}

// post queues an event for the loop. It must not be called from the loop
// goroutine itself.
func (c *Client) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Client) call(ev Event, ch chan reply) (uint64, error) {
	select {
	case c.events <- ev:
	case <-c.done:
		return 0, ErrClosed
	}
	select {
	case r := <-ch:
		return r.seq, r.err
	case <-c.done:
		return 0, ErrClosed
	}
}

// StartScan clears the candidate list and starts a scan window of
// ScanTimeout. Restarting a running scan reopens the window.
func (c *Client) StartScan() error {
	_, err := c.startScan()
	return err
}

func (c *Client) startScan() (uint64, error) {
	ch := make(chan reply, 1)
	return c.call(cmdStartScan{reply: ch}, ch)
}

// StopScan ends the scan window early. Sightings arriving afterwards are
// dropped.
func (c *Client) StopScan() error {
	ch := make(chan reply, 1)
	_, err := c.call(cmdStopScan{reply: ch}, ch)
	return err
}

// ScanFor runs one scan window and returns the candidates found. If ctx ends
// first the scan is stopped and the candidates so far are returned with
// ctx's error.
func (c *Client) ScanFor(ctx context.Context) ([]PrinterCandidate, error) {
	updates, cancel := c.Subscribe()
	defer cancel()

	gen, err := c.startScan()
	if err != nil {
		return nil, err
	}
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				return c.Snapshot().Candidates, ErrClosed
			}
			if s.scanGen > gen || (s.scanGen == gen && !s.Scanning) {
				return s.Candidates, nil
			}
		case <-ctx.Done():
			_ = c.StopScan()
			return c.Snapshot().Candidates, ctx.Err()
		}
	}
}

// Connect starts connecting to a peripheral and returns once the request is
// issued. An existing connection is dropped first.
func (c *Client) Connect(id PeripheralID) error {
	_, err := c.connect(id)
	return err
}

func (c *Client) connect(id PeripheralID) (uint64, error) {
	ch := make(chan reply, 1)
	return c.call(cmdConnect{id: id, reply: ch}, ch)
}

// ConnectAndWait connects to a peripheral and waits until it is Ready or
// the attempt failed. Cancelling ctx abandons the attempt.
func (c *Client) ConnectAndWait(ctx context.Context, id PeripheralID) (ConnectionState, error) {
	updates, cancel := c.Subscribe()
	defer cancel()

	attempt, err := c.connect(id)
	if err != nil {
		return ConnectionState{}, err
	}
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				return c.Snapshot().State, ErrClosed
			}
			st := s.State
			if st.Attempt != attempt || st.Kind.InProgress() {
				continue
			}
			switch st.Kind {
			case StateReady:
				return st, nil
			case StateFailed:
				return st, st.Err
			default:
				return st, ErrNotConnected
			}
		case <-ctx.Done():
			_ = c.Disconnect()
			return c.Snapshot().State, ctx.Err()
		}
	}
}

// Disconnect drops the connection from any state. A pending print job
// fails with ErrNotConnected.
func (c *Client) Disconnect() error {
	ch := make(chan reply, 1)
	_, err := c.call(cmdDisconnect{reply: ch}, ch)
	return err
}

// Submit encodes markup and sends it to the printer. The returned channel
// receives exactly one result and is then closed. Submit fails without
// queueing when the printer is not Ready (ErrNotConnected) or another job
// is pending (ErrJobInProgress).
func (c *Client) Submit(markup string) <-chan PrintResult {
	result := make(chan PrintResult, 1)
	accepted := make(chan reply, 1)
	if _, err := c.call(cmdSubmit{markup: markup, result: result, reply: accepted}, accepted); err != nil {
		// The loop owns result once it has accepted the command.
		select {
		case <-accepted:
		default:
			rejectJob(result, err)
		}
	}
	return result
}

// Print submits markup and waits for the result. If ctx ends first the job
// keeps running and ctx's error is returned.
func (c *Client) Print(ctx context.Context, markup string) (PrintResult, error) {
	select {
	case res := <-c.Submit(markup):
		return res, res.Err
	case <-ctx.Done():
		return PrintResult{}, ctx.Err()
	}
}

// Snapshot returns the current client state.
func (c *Client) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.snapshot
	s.Candidates = copyCandidates(s.Candidates)
	return s
}

// Subscribe returns a channel that always holds the latest snapshot,
// starting with the current one. Intermediate snapshots may be skipped.
// The cancel function releases the subscription.
func (c *Client) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Snapshot, 1)
	select {
	case <-c.done:
		close(ch)
		return ch, func() {}
	default:
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshot

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close disconnects, fails any pending job with ErrNotConnected and stops
// the client loop.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		ch := make(chan reply, 1)
		_, _ = c.call(cmdClose{reply: ch}, ch)
	})
	return nil
}

func (c *Client) run() {
	for ev := range c.events {
		answer, stop := c.handle(ev)

		// A job cannot outlive the Ready state it was submitted in.
		if c.job != nil && !c.machine.state.Ready() {
			c.finishJob(ErrNotConnected)
		}
		c.publish()

		if answer != nil {
			answer()
		}
		if stop {
			c.closeSubscribers()
			return
		}
	}
}

func respond(ch chan reply, seq uint64, err error) func() {
	return func() { ch <- reply{seq: seq, err: err} }
}

// handle processes one event. Commands return the reply to send once the
// resulting snapshot is published.
func (c *Client) handle(ev Event) (answer func(), stop bool) {
	switch ev := ev.(type) {
	case Discovered:
		c.onDiscovered(ev)
	case ConnectResult:
		c.machine.onConnectResult(ev)
	case ServicesDiscovered:
		c.machine.onServicesDiscovered(ev)
	case CharacteristicsDiscovered:
		c.machine.onCharacteristicsDiscovered(ev)
	case PeripheralDisconnected:
		c.machine.onPeripheralDisconnected(ev)
	case WriteResult:
		c.onWriteResult(ev)
	case connectTimeout:
		c.machine.onTimeout(ev)
	case scanTimeout:
		if ev.gen == c.scan.gen && c.scan.active {
			c.log.Infof("[SCAN] scan window closed with %d candidates", len(c.scan.order))
			c.stopScan()
		}
	case writeGrace:
		if c.job != nil && c.job.id == ev.jobID && !c.job.acknowledged {
			c.finishJob(nil)
		}
	case cmdStartScan:
		gen, err := c.beginScan()
		return respond(ev.reply, gen, err), false
	case cmdStopScan:
		c.stopScan()
		return respond(ev.reply, c.scan.gen, nil), false
	case cmdConnect:
		c.teardown()
		if c.scan.active {
			c.stopScan()
		}
		return respond(ev.reply, c.machine.connect(ev.id), nil), false
	case cmdDisconnect:
		c.teardown()
		return respond(ev.reply, 0, nil), false
	case cmdSubmit:
		c.onSubmit(ev)
		return respond(ev.reply, 0, nil), false
	case cmdClose:
		c.stopScan()
		c.teardown()
		return respond(ev.reply, 0, nil), true
	}
	return nil, false
}

func (c *Client) onDiscovered(ev Discovered) {
	if !c.scan.active {
		c.log.Debugf("[SCAN] dropping sighting of %s after scan end", ev.ID)
		return
	}
	services := NormalizeUUIDs(ev.ServiceUUIDs)
	if !c.opts.Filter.Accepts(ev.Name, services) {
		c.log.Debugf("[SCAN] rejected %s (%q)", ev.ID, ev.Name)
		return
	}
	cand := PrinterCandidate{ID: ev.ID, Name: ev.Name, ServiceUUIDs: services, RSSI: ev.RSSI}
	if c.scan.upsert(cand) {
		c.log.Infof("[SCAN] found printer %s (%q, rssi %d)", ev.ID, ev.Name, ev.RSSI)
	}
}

func (c *Client) beginScan() (uint64, error) {
	if !c.scan.active {
		if err := c.central.StartScan(); err != nil {
			return c.scan.gen, fmt.Errorf("ble: start scan: %w", err)
		}
	}
	gen := c.scan.begin()
	c.scan.timer = time.AfterFunc(c.opts.ScanTimeout, func() {
		c.post(scanTimeout{gen: gen})
	})
	c.log.Infof("[SCAN] scanning for %s", c.opts.ScanTimeout)
	return gen, nil
}

func (c *Client) stopScan() {
	if !c.scan.active {
		return
	}
	c.scan.end()
	if err := c.central.StopScan(); err != nil {
		c.log.Warnf("[SCAN] stop scan: %v", err)
	}
}

// teardown drops the current connection, if any.
func (c *Client) teardown() {
	if c.machine.state.Kind != StateDisconnected {
		c.machine.disconnect()
	}
}

func (c *Client) onSubmit(ev cmdSubmit) {
	st := c.machine.state
	if !st.Ready() {
		rejectJob(ev.result, ErrNotConnected)
		return
	}
	if c.job != nil {
		rejectJob(ev.result, ErrJobInProgress)
		return
	}
	if !c.central.IsConnected(st.Peripheral) {
		c.machine.downgrade()
		rejectJob(ev.result, ErrNotConnected)
		return
	}

	payload := escpos.Encode(ev.markup)
	ack := st.Characteristic.Capabilities.Has(CapWrite)
	c.writes++
	job := newPrintJob(c.writes, payload, ack, ev.result)
	c.job = job
	c.log.Infof("[BLE] job %s: writing %d bytes to %s (acknowledged=%v)", job.id, len(payload), st.Characteristic.UUID, ack)

	if err := c.central.Write(st.Peripheral, st.ServiceUUID, st.Characteristic.UUID, payload, ack, job.token); err != nil {
		c.finishJob(wrapDetail(ErrWriteFailed, err))
		return
	}
	if !ack {
		id := job.id
		time.AfterFunc(c.opts.WriteGrace, func() {
			c.post(writeGrace{jobID: id})
		})
	}
}

func (c *Client) onWriteResult(ev WriteResult) {
	if c.job == nil || !c.job.acknowledged || ev.ID != c.machine.state.Peripheral {
		c.log.Debugf("[BLE] ignoring write result from %s with no acknowledged job pending", ev.ID)
		return
	}
	if ev.Token != c.job.token {
		c.log.Debugf("[BLE] ignoring stale write result %d from %s, job %s waits for %d", ev.Token, ev.ID, c.job.id, c.job.token)
		return
	}
	var err error
	if ev.Err != nil {
		err = wrapDetail(ErrWriteFailed, ev.Err)
	}
	c.finishJob(err)
}

func (c *Client) finishJob(err error) {
	job := c.job
	c.job = nil
	if job == nil || !job.complete(err) {
		return
	}
	if err != nil {
		c.log.Errorf("[BLE] job %s failed: %v", job.id, err)
		return
	}
	c.log.Infof("[BLE] job %s printed %d bytes in %s", job.id, len(job.payload), job.watch.ElapsedTime())
}

// closeSubscribers marks the client closed and releases every subscriber.
func (c *Client) closeSubscribers() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.done)
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub)
	}
}

// publish refreshes the snapshot and hands it to every subscriber, replacing
// any snapshot the subscriber has not read yet.
func (c *Client) publish() {
	s := Snapshot{
		State:      c.machine.state,
		Scanning:   c.scan.active,
		Candidates: c.scan.candidates(),
		JobPending: c.job != nil,
		scanGen:    c.scan.gen,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = s
	for _, sub := range c.subs {
		out := s
		out.Candidates = copyCandidates(s.Candidates)
		select {
		case sub <- out:
		default:
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- out:
			default:
			}
		}
	}
}
