package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataline/callflow-backend/internal/domain/call"
)

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, evt Event)
	}{
		{
			"call.started",
			`{"type":"call.started","provider":"twilio","correlationId":"c1","direction":"outgoing","from":"+1555","to":"+1666"}`,
			func(t *testing.T, evt Event) {
				v, ok := evt.(*CallStarted)
				require.True(t, ok)
				assert.Equal(t, call.DirectionOutgoing, v.Direction)
				assert.Equal(t, "+1555", v.FromNumber)
				assert.True(t, v.CreatesRecord())
			},
		},
		{
			"incoming",
			`{"type":"incoming","correlationId":"c1","from":"+1555","to":"+1666"}`,
			func(t *testing.T, evt Event) {
				v, ok := evt.(*Incoming)
				require.True(t, ok)
				assert.Equal(t, "+1666", v.ToNumber)
				assert.True(t, v.CreatesRecord())
			},
		},
		{
			"call.ended",
			`{"type":"call.ended","correlationId":"c1","durationSeconds":88}`,
			func(t *testing.T, evt Event) {
				v, ok := evt.(*CallEnded)
				require.True(t, ok)
				assert.Equal(t, 88, v.DurationSeconds)
				assert.False(t, v.CreatesRecord())
			},
		},
		{
			"call.analyzed",
			`{"type":"call.analyzed","correlationId":"c1","recordingUrl":"https://r","summary":"s","durationSeconds":90}`,
			func(t *testing.T, evt Event) {
				v, ok := evt.(*CallAnalyzed)
				require.True(t, ok)
				assert.Equal(t, "https://r", v.RecordingURL)
				assert.Equal(t, "s", v.Summary)
			},
		},
		{
			"status-update",
			`{"type":"status-update","correlationId":"c1","status":"in-progress"}`,
			func(t *testing.T, evt Event) {
				v, ok := evt.(*StatusUpdate)
				require.True(t, ok)
				assert.Equal(t, call.StatusInProgress, v.Status)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := Decode([]byte(tt.body), "vapi")
			require.NoError(t, err)
			tt.check(t, evt)
		})
	}
}

func TestDecode_DefaultProvider(t *testing.T) {
	evt, err := Decode([]byte(`{"type":"incoming","correlationId":"c1"}`), "vapi")
	require.NoError(t, err)
	provider, correlationID := evt.Key()
	assert.Equal(t, "vapi", provider)
	assert.Equal(t, "c1", correlationID)

	evt, err = Decode([]byte(`{"type":"incoming","provider":"twilio","correlationId":"c1"}`), "vapi")
	require.NoError(t, err)
	provider, _ = evt.Key()
	assert.Equal(t, "twilio", provider, "explicit provider wins over the default")
}

func TestDecode_Rejections(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"call.transferred","correlationId":"c1"}`), "vapi")
		var ute *UnknownTypeError
		require.ErrorAs(t, err, &ute)
		assert.Equal(t, "call.transferred", ute.Type)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := Decode([]byte(`{"correlationId":"c1"}`), "vapi")
		assert.ErrorIs(t, err, ErrMissingType)
	})

	t.Run("missing correlation id", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"incoming"}`), "vapi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "correlation id")
	})

	t.Run("not json", func(t *testing.T) {
		_, err := Decode([]byte(`<xml/>`), "vapi")
		assert.Error(t, err)
	})

	t.Run("bad status value", func(t *testing.T) {
		_, err := Decode([]byte(`{"type":"status-update","correlationId":"c1","status":"on-hold"}`), "vapi")
		assert.Error(t, err)
	})
}
