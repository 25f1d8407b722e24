package date

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestCurrentParses(t *testing.T) {
	got, err := http.ParseTime(string(Current()))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), got, 2*time.Second)
}

func TestStartNests(t *testing.T) {
	defer goleak.VerifyNone(t)

	stop1 := Start()
	stop2 := Start()
	stop1()
	stop1()

	got, err := http.ParseTime(string(Current()))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), got, 2*time.Second)

	stop2()
}
