package upcaster_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/cqrskit/internal/application/appcore"
	"github.com/lllypuk/cqrskit/internal/infrastructure/codec"
	"github.com/lllypuk/cqrskit/internal/infrastructure/upcaster"
)

func setField(field string, value any) upcaster.Func {
	return func(payload codec.Document) (codec.Document, error) {
		payload[field] = value
		return payload, nil
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	tests := []struct {
		name      string
		upcasters []upcaster.Upcaster
	}{
		{
			name:      "missing event type",
			upcasters: []upcaster.Upcaster{{FromVersion: "1.0.0", ToVersion: "1.0.1", Upcast: setField("a", 1)}},
		},
		{
			name: "missing function",
			upcasters: []upcaster.Upcaster{
				{EventType: "NameAdded", FromVersion: "1.0.0", ToVersion: "1.0.1"},
			},
		},
		{
			name: "invalid source version",
			upcasters: []upcaster.Upcaster{
				{EventType: "NameAdded", FromVersion: "one", ToVersion: "1.0.1", Upcast: setField("a", 1)},
			},
		},
		{
			name: "target not greater than source",
			upcasters: []upcaster.Upcaster{
				{EventType: "NameAdded", FromVersion: "1.0.1", ToVersion: "1.0.1", Upcast: setField("a", 1)},
			},
		},
		{
			name: "duplicate source version",
			upcasters: []upcaster.Upcaster{
				{EventType: "NameAdded", FromVersion: "1.0", ToVersion: "1.0.1", Upcast: setField("a", 1)},
				{EventType: "NameAdded", FromVersion: "1.0.0", ToVersion: "1.1.0", Upcast: setField("b", 2)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := upcaster.NewPipeline(tt.upcasters...)

			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, appcore.ErrInvalidConfiguration)
		})
	}
}

func TestMustNewPipeline_PanicsOnInvalidChain(t *testing.T) {
	assert.Panics(t, func() {
		upcaster.MustNewPipeline(upcaster.Upcaster{EventType: "NameAdded"})
	})
}

func TestPipeline_Upcast_SameVersionIsNoop(t *testing.T) {
	// Arrange
	called := false
	p := upcaster.MustNewPipeline(upcaster.Upcaster{
		EventType:   "NameAdded",
		FromVersion: "1.0.0",
		ToVersion:   "1.0.1",
		Upcast: func(payload codec.Document) (codec.Document, error) {
			called = true
			return payload, nil
		},
	})
	payload := codec.Document{"name": "John"}

	// Act
	result, err := p.Upcast("NameAdded", "1.0.1", "1.0.1", payload)

	// Assert
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, payload, result)
}

func TestPipeline_Upcast_SingleStep(t *testing.T) {
	// Arrange
	p := upcaster.MustNewPipeline(upcaster.Upcaster{
		EventType:   "NameAdded",
		FromVersion: "1.0.0",
		ToVersion:   "1.0.1",
		Upcast:      setField("name", "UNKNOWN"),
	})
	stored := codec.Document{}

	// Act
	result, err := p.Upcast("NameAdded", "1.0.0", "1.0.1", stored)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, codec.Document{"name": "UNKNOWN"}, result)
	assert.Empty(t, stored, "stored payload must not be modified")
}

func TestPipeline_Upcast_NilPayloadBecomesEmptyDocument(t *testing.T) {
	p := upcaster.MustNewPipeline(upcaster.Upcaster{
		EventType:   "NameAdded",
		FromVersion: "1.0.0",
		ToVersion:   "1.0.1",
		Upcast:      setField("name", "UNKNOWN"),
	})

	result, err := p.Upcast("NameAdded", "1.0.0", "1.0.1", nil)

	require.NoError(t, err)
	assert.Equal(t, codec.Document{"name": "UNKNOWN"}, result)
}

func TestPipeline_Upcast_ChainAppliedInOrder(t *testing.T) {
	// Arrange
	var order []string
	step := func(label string) upcaster.Func {
		return func(payload codec.Document) (codec.Document, error) {
			order = append(order, label)
			payload[label] = true
			return payload, nil
		}
	}
	// Registered out of order on purpose.
	p := upcaster.MustNewPipeline(
		upcaster.Upcaster{EventType: "EmailUpdated", FromVersion: "1.2", ToVersion: "2.0", Upcast: step("third")},
		upcaster.Upcaster{EventType: "EmailUpdated", FromVersion: "1.0", ToVersion: "1.1", Upcast: step("first")},
		upcaster.Upcaster{EventType: "EmailUpdated", FromVersion: "1.1", ToVersion: "1.2", Upcast: step("second")},
	)

	// Act
	result, err := p.Upcast("EmailUpdated", "1.0", "2.0.0", codec.Document{"new_email": "a@example.com"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, codec.Document{
		"new_email": "a@example.com",
		"first":     true,
		"second":    true,
		"third":     true,
	}, result)
}

func TestPipeline_Upcast_StartsFromStoredVersion(t *testing.T) {
	var applied []string
	step := func(label string) upcaster.Func {
		return func(payload codec.Document) (codec.Document, error) {
			applied = append(applied, label)
			return payload, nil
		}
	}
	p := upcaster.MustNewPipeline(
		upcaster.Upcaster{EventType: "E", FromVersion: "1.0.0", ToVersion: "1.1.0", Upcast: step("a")},
		upcaster.Upcaster{EventType: "E", FromVersion: "1.1.0", ToVersion: "1.2.0", Upcast: step("b")},
	)

	_, err := p.Upcast("E", "1.1.0", "1.2.0", codec.Document{})

	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, applied)
}

func TestPipeline_Upcast_NoPath(t *testing.T) {
	p := upcaster.MustNewPipeline(
		upcaster.Upcaster{EventType: "E", FromVersion: "1.0.0", ToVersion: "1.2.0", Upcast: setField("x", 1)},
	)

	tests := []struct {
		name    string
		stored  string
		current string
	}{
		{name: "missing step", stored: "0.9.0", current: "1.2.0"},
		{name: "overshoot", stored: "1.0.0", current: "1.1.0"},
		{name: "stored newer than current", stored: "2.0.0", current: "1.2.0"},
		{name: "unparsable stored version", stored: "v-next", current: "1.2.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Upcast("E", tt.stored, tt.current, codec.Document{})

			require.Error(t, err)
			assert.ErrorIs(t, err, appcore.ErrSerialization)
			assert.ErrorIs(t, err, upcaster.ErrNoUpcastPath)
		})
	}
}

func TestPipeline_Upcast_OtherEventTypeUnaffected(t *testing.T) {
	p := upcaster.MustNewPipeline(
		upcaster.Upcaster{EventType: "NameAdded", FromVersion: "1.0.0", ToVersion: "1.0.1", Upcast: setField("name", "x")},
	)

	_, err := p.Upcast("EmailUpdated", "1.0.0", "1.0.1", codec.Document{})

	assert.ErrorIs(t, err, upcaster.ErrNoUpcastPath)
}

func TestPipeline_Upcast_FunctionError(t *testing.T) {
	boom := errors.New("boom")
	p := upcaster.MustNewPipeline(upcaster.Upcaster{
		EventType:   "E",
		FromVersion: "1.0.0",
		ToVersion:   "1.0.1",
		Upcast: func(codec.Document) (codec.Document, error) {
			return nil, boom
		},
	})

	_, err := p.Upcast("E", "1.0.0", "1.0.1", codec.Document{})

	require.Error(t, err)
	assert.ErrorIs(t, err, appcore.ErrSerialization)
	assert.ErrorIs(t, err, boom)
}

func TestPipeline_NilPipeline(t *testing.T) {
	var p *upcaster.Pipeline

	assert.Equal(t, 0, p.Len())

	result, err := p.Upcast("E", "1.0", "1.0", codec.Document{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, codec.Document{"a": 1}, result)

	_, err = p.Upcast("E", "1.0", "1.1", codec.Document{})
	assert.ErrorIs(t, err, upcaster.ErrNoUpcastPath)
}

func TestPipeline_Path(t *testing.T) {
	p := upcaster.MustNewPipeline(
		upcaster.Upcaster{EventType: "E", FromVersion: "1.1.0", ToVersion: "2.0.0", Upcast: setField("b", 2)},
		upcaster.Upcaster{EventType: "E", FromVersion: "1.0.0", ToVersion: "1.1.0", Upcast: setField("a", 1)},
	)

	chain, err := p.Path("E", "1.0", "2.0")

	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "1.0.0", chain[0].FromVersion)
	assert.Equal(t, "1.1.0", chain[1].FromVersion)
	assert.Equal(t, 2, p.Len())

	empty, err := p.Path("E", "2.0.0", "2.0.0")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
