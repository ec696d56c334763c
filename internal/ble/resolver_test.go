package ble

import "testing"

func TestResolve(t *testing.T) {
	const (
		custom = "49535343-8841-43f4-a8d4-ecbe34729bb3"
		notify = "49535343-1e4d-4bd9-ba61-23c647249616"
	)

	tests := []struct {
		name   string
		chars  []CharacteristicDescriptor
		want   string
		wantOK bool
	}{
		{
			name:   "empty list",
			chars:  nil,
			wantOK: false,
		},
		{
			name:   "non-standard writable only",
			chars:  []CharacteristicDescriptor{{UUID: custom, Capabilities: CapWrite}},
			want:   custom,
			wantOK: true,
		},
		{
			name: "spp fallback beats earlier writable",
			chars: []CharacteristicDescriptor{
				{UUID: custom, Capabilities: CapWriteWithoutResponse},
				{UUID: SPPFallbackChar2UUID, Capabilities: CapNotify},
			},
			want:   SPPFallbackChar2UUID,
			wantOK: true,
		},
		{
			name: "spp fallback in short form",
			chars: []CharacteristicDescriptor{
				{UUID: custom, Capabilities: CapWrite},
				{UUID: "fff1", Capabilities: CapWrite},
			},
			want:   "fff1",
			wantOK: true,
		},
		{
			name: "first writable skips notify",
			chars: []CharacteristicDescriptor{
				{UUID: notify, Capabilities: CapNotify},
				{UUID: custom, Capabilities: CapWriteWithoutResponse},
			},
			want:   custom,
			wantOK: true,
		},
		{
			name: "last resort first characteristic",
			chars: []CharacteristicDescriptor{
				{UUID: notify, Capabilities: CapNotify},
				{UUID: custom, Capabilities: CapRead},
			},
			want:   notify,
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(ServiceDescriptor{UUID: PrimaryServiceUUID, Characteristics: tt.chars})
			if ok != tt.wantOK {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.UUID != tt.want {
				t.Errorf("Resolve() = %s, want %s", got.UUID, tt.want)
			}
		})
	}
}

func TestCapabilityString(t *testing.T) {
	if got := (CapWrite | CapNotify).String(); got != "write|notify" {
		t.Errorf("String() = %q, want %q", got, "write|notify")
	}
	if got := Capability(0).String(); got != "none" {
		t.Errorf("String() = %q, want %q", got, "none")
	}
}

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ff02", AlternateWriteCharUUID},
		{"0000FFF1", SPPFallbackChar1UUID},
		{"0000110100001000800000805f9b34fb", PrimaryServiceUUID},
		{" 0000FF00-0000-1000-8000-00805F9B34FB ", AlternateServiceUUID},
		{"not-a-uuid", "not-a-uuid"},
	}
	for _, tt := range tests {
		if got := NormalizeUUID(tt.in); got != tt.want {
			t.Errorf("NormalizeUUID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
