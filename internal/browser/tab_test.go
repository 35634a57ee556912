package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsXPath(t *testing.T) {
	assert.True(t, isXPath("//button[contains(., 'Next')]"))
	assert.True(t, isXPath("/html/body/form[1]/input[2]"))
	assert.True(t, isXPath("(//input[@type='radio'])[1]"))

	assert.False(t, isXPath("#next"))
	assert.False(t, isXPath(".btn-next"))
	assert.False(t, isXPath(`input[name="q1"][value="yes"]`))
	assert.False(t, isXPath("form button:last-of-type"))
}

func TestJSONEncode(t *testing.T) {
	assert.Equal(t, `"#next"`, jsonEncode("#next"))
	// Quotes and backslashes survive embedding into a script literal.
	assert.Equal(t, `"input[name=\"q\"]"`, jsonEncode(`input[name="q"]`))
	assert.Equal(t, "true", jsonEncode(true))
	assert.Equal(t, "3", jsonEncode(3))
}

func TestCombineContextCancelsWithEitherParent(t *testing.T) {
	primary, cancelPrimary := context.WithCancel(context.Background())
	secondary, cancelSecondary := context.WithCancel(context.Background())
	defer cancelSecondary()

	combined, cancel := combineContext(primary, secondary)
	defer cancel()

	select {
	case <-combined.Done():
		t.Fatal("combined context done before either parent")
	default:
	}

	cancelPrimary()
	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not cancelled with primary parent")
	}

	primary2 := context.Background()
	secondary2, cancelSecondary2 := context.WithCancel(context.Background())
	combined2, cancel2 := combineContext(primary2, secondary2)
	defer cancel2()

	cancelSecondary2()
	select {
	case <-combined2.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context not cancelled with secondary parent")
	}
	require.Error(t, combined2.Err())
}
