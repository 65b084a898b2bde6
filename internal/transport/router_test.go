package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/schedule"
)

type recordingLink struct {
	targets []string
	err     error
}

func (l *recordingLink) Send(_ context.Context, targetID string, _ *schedule.SyncMessage) (*Ack, error) {
	l.targets = append(l.targets, targetID)
	if l.err != nil {
		return nil, l.err
	}

	return &Ack{}, nil
}

func TestRouter(t *testing.T) {
	t.Parallel()

	reg := registry.NewStatic([]registry.Node{
		{ID: "hg", Online: true},
		{ID: "pump", Online: true, Transport: LinkSerial, Address: "0x2A"},
		{ID: "valve", Online: false},
		{ID: "odd", Online: true, Transport: "lora"},
	})

	httpLink := &recordingLink{}
	serialLink := &recordingLink{}

	r := NewRouter(reg, map[string]Transport{LinkHTTP: httpLink, LinkSerial: serialLink}, LinkHTTP, testLogger())
	msg := testMessage(t)

	_, err := r.Send(t.Context(), "hg", msg)
	require.NoError(t, err)

	_, err = r.Send(t.Context(), "pump", msg)
	require.NoError(t, err)

	_, err = r.Send(t.Context(), "valve", msg)
	require.ErrorIs(t, err, ErrOffline)

	_, err = r.Send(t.Context(), "ghost", msg)
	require.ErrorIs(t, err, ErrUnreachable)

	_, err = r.Send(t.Context(), "odd", msg)
	require.ErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), `"lora"`)

	assert.Equal(t, []string{"hg"}, httpLink.targets)
	assert.Equal(t, []string{"0x2A"}, serialLink.targets)
}

func TestRouter_PassesLinkErrorsThrough(t *testing.T) {
	t.Parallel()

	reg := registry.NewStatic([]registry.Node{{ID: "n1", Online: true}})
	link := &recordingLink{err: &NodeError{Target: "n1", Msg: "full", Err: ErrNack}}

	r := NewRouter(reg, map[string]Transport{LinkHTTP: link}, LinkHTTP, testLogger())

	_, err := r.Send(t.Context(), "n1", testMessage(t))

	var ne *NodeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "full", ne.Msg)
}
