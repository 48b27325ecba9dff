package reconcile

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/fleetmon/fleetmon/pkg/db"
	"github.com/fleetmon/fleetmon/pkg/status"
)

func TestRecordIfAbsent(t *testing.T) {
	ts := time.Now().UTC().Truncate(time.Second)

	tests := []struct {
		name        string
		exists      bool
		existsErr   error
		insertErr   error
		wantInsert  bool
		expectError bool
	}{
		{
			name:       "absent inserts",
			wantInsert: true,
		},
		{
			name:   "existing row skipped",
			exists: true,
		},
		{
			name:        "existence check error",
			existsErr:   db.ErrDatabaseError,
			expectError: true,
		},
		{
			name:        "insert error",
			wantInsert:  true,
			insertErr:   db.ErrDatabaseError,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockStore := db.NewMockService(ctrl)
			mockStore.EXPECT().
				TransitionExists(int64(1), status.Shutdown, ts).
				Return(tt.exists, tt.existsErr)

			if tt.wantInsert && tt.existsErr == nil {
				mockStore.EXPECT().
					InsertTransition(int64(1), status.Shutdown, ts).
					Return(tt.insertErr)
			}

			w := NewLogWriter(mockStore, zerolog.Nop())
			err := w.RecordIfAbsent(1, status.Shutdown, ts)

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
