package camera

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camerad/internal/logger"
)

func TestBeginSessionRespectsPendingTable(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil, DefaultConfig(),
		WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)))
	ctrl := &stubController{}
	s := newSession(4, "dev", MediaSettings{}, time.Time{})
	s.state = StatePreviewing
	s.controller = ctrl

	var first []Result
	rollbacks := 0
	var got []Result
	c.beginSession(s, operation{
		kind: OpTakePicture,
		// Another request of the same kind slips in after admission.
		prepare: func(s *Session) (string, error) {
			require.True(t, s.pending.TryBegin(OpTakePicture, func(r Result) { first = append(first, r) }))
			return "/pictures/p.jpeg", nil
		},
		issue: func(ctrl CaptureController, path string) error {
			return ctrl.TakePicture(path)
		},
		rollback: func(*Session) { rollbacks++ },
	}, func(r Result) { got = append(got, r) })

	require.Len(t, got, 1)
	assert.Equal(t, KindRequestAlreadyPending, KindOf(got[0].Err))
	assert.Equal(t, int64(4), got[0].CameraID)
	assert.Equal(t, 1, rollbacks)
	assert.Empty(t, ctrl.calls, "the controller is not asked")

	require.True(t, s.pending.Has(OpTakePicture), "the earlier entry is kept")
	s.pending.Resolve(OpTakePicture, Result{Path: "/pictures/p.jpeg"})
	require.Len(t, first, 1)
	assert.Equal(t, "/pictures/p.jpeg", first[0].Path)
}
