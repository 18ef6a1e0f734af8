package transport

import "testing"

func TestDefaultOptions(t *testing.T) {
	o := Default()
	if o.MaxQueueDepth != defaultMaxQueueDepth {
		t.Fatalf("expected default max_queue_depth, got %d", o.MaxQueueDepth)
	}
	if o.IOUnitSize%4096 != 0 {
		t.Fatalf("expected io_unit_size rounded to 4KiB, got %d", o.IOUnitSize)
	}
	if o.AcceptorBacklog != defaultAcceptorBacklog {
		t.Fatalf("expected default acceptor_backlog, got %d", o.AcceptorBacklog)
	}
}

func TestDecodeJSONIgnoresUnknownKeys(t *testing.T) {
	base := Default()
	raw := []byte(`{"max_queue_depth": 64, "this_key_does_not_exist": 1234}`)
	o, err := DecodeJSON(base, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.MaxQueueDepth != 64 {
		t.Fatalf("expected overlay to apply max_queue_depth=64, got %d", o.MaxQueueDepth)
	}
}

func TestDecodeJSONClampsMaxAQDepth(t *testing.T) {
	base := Default()
	raw := []byte(`{"max_aq_depth": 4}`)
	o, err := DecodeJSON(base, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.MaxAQDepth != minAQDepth {
		t.Fatalf("expected max_aq_depth clamped to %d, got %d", minAQDepth, o.MaxAQDepth)
	}
}

func TestDecodeJSONClampsAcceptorBacklogMinimum(t *testing.T) {
	base := Default()
	raw := []byte(`{"acceptor_backlog": 0}`)
	o, err := DecodeJSON(base, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.AcceptorBacklog != minAcceptorBacklog {
		t.Fatalf("expected acceptor_backlog clamped to %d, got %d", minAcceptorBacklog, o.AcceptorBacklog)
	}
}

func TestDecodeJSONRoundsIOUnitSizeUp(t *testing.T) {
	base := Default()
	raw := []byte(`{"io_unit_size": 100}`)
	o, err := DecodeJSON(base, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.IOUnitSize != 4096 {
		t.Fatalf("expected io_unit_size rounded up to 4096, got %d", o.IOUnitSize)
	}
}
