package system

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingService struct {
	name     string
	startErr error
	journal  *[]string
}

func (r recordingService) Name() string { return r.name }

func (r recordingService) Start(context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	*r.journal = append(*r.journal, "start:"+r.name)
	return nil
}

func (r recordingService) Stop(context.Context) error {
	*r.journal = append(*r.journal, "stop:"+r.name)
	return nil
}

func TestManagerOrdering(t *testing.T) {
	var journal []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(recordingService{name: name, journal: &journal}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got := strings.Join(journal, ",")
	want := "start:a,start:b,start:c,stop:c,stop:b,stop:a"
	if got != want {
		t.Fatalf("journal = %s, want %s", got, want)
	}
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var journal []string
	boom := errors.New("boom")
	m := NewManager()
	_ = m.Register(recordingService{name: "a", journal: &journal})
	_ = m.Register(recordingService{name: "b", journal: &journal})
	_ = m.Register(recordingService{name: "c", journal: &journal, startErr: boom})

	err := m.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got := strings.Join(journal, ",")
	if got != "start:a,start:b,stop:b,stop:a" {
		t.Fatalf("unexpected journal %s", got)
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	m := NewManager()
	if err := m.Register(NoopService{ServiceName: "x"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "x"}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if names := m.Services(); len(names) != 1 || names[0] != "x" {
		t.Fatalf("unexpected services %v", names)
	}
}
