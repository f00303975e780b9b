package playbackmodule

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"

	"github.com/flixor/flixor/internal/models"
)

func directDesc() *models.StreamDescriptor {
	return &models.StreamDescriptor{Mode: models.StreamModeDirectPlay}
}

func transcodeDesc() *models.StreamDescriptor {
	return &models.StreamDescriptor{Mode: models.StreamModeTranscode, SessionID: "tx-1"}
}

func TestRecoveryRetriesThenFallsBack(t *testing.T) {
	r := NewRecovery(2, hclog.NewNullLogger())

	assert.Equal(t, ActionRetryDirect, r.OnPrematureEnd(directDesc()))
	assert.Equal(t, 1, r.Attempts())
	assert.Equal(t, ActionRetryDirect, r.OnPrematureEnd(directDesc()))
	assert.Equal(t, 2, r.Attempts())

	// Budget spent: exactly one escalation, counter reset for the new
	// delivery mode.
	assert.Equal(t, ActionFallbackTranscode, r.OnPrematureEnd(directDesc()))
	assert.Equal(t, 0, r.Attempts())
}

func TestRecoveryTranscodeFailureIsFatal(t *testing.T) {
	r := NewRecovery(2, hclog.NewNullLogger())

	assert.Equal(t, ActionFail, r.OnPrematureEnd(transcodeDesc()))
	assert.Equal(t, StateFailed, r.State())
}

func TestRecoveryNilDescriptorIsFatal(t *testing.T) {
	r := NewRecovery(2, hclog.NewNullLogger())
	assert.Equal(t, ActionFail, r.OnPrematureEnd(nil))
}

func TestRecoverySuccessfulLoadResetsCounter(t *testing.T) {
	r := NewRecovery(2, hclog.NewNullLogger())

	r.NoteLoading()
	assert.Equal(t, StateLoading, r.State())

	assert.Equal(t, ActionRetryDirect, r.OnPrematureEnd(directDesc()))
	r.NoteLoaded()
	assert.Equal(t, StatePlaying, r.State())
	assert.Equal(t, 0, r.Attempts())

	// A later failure starts the budget over.
	assert.Equal(t, ActionRetryDirect, r.OnPrematureEnd(directDesc()))
	assert.Equal(t, 1, r.Attempts())
}

func TestRecoveryZeroRetriesEscalatesImmediately(t *testing.T) {
	r := NewRecovery(0, hclog.NewNullLogger())
	assert.Equal(t, ActionFallbackTranscode, r.OnPrematureEnd(directDesc()))
}
