package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/pkg/logger"
)

func TestLogBufferBelowCapacity(t *testing.T) {
	b := newLogBuffer(4)
	b.add(logger.LogEntry{Message: "one"})
	b.add(logger.LogEntry{Message: "two"})

	got := b.Recent()
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Message)
	assert.Equal(t, "two", got[1].Message)
}

func TestLogBufferWrapsOldestFirst(t *testing.T) {
	b := newLogBuffer(3)
	for i := 1; i <= 5; i++ {
		b.add(logger.LogEntry{Message: fmt.Sprintf("entry %d", i)})
	}

	got := b.Recent()
	require.Len(t, got, 3)
	assert.Equal(t, "entry 3", got[0].Message)
	assert.Equal(t, "entry 4", got[1].Message)
	assert.Equal(t, "entry 5", got[2].Message)
}

func TestLogBufferDrainsSubscription(t *testing.T) {
	b := newLogBuffer(8)
	ch := make(chan logger.LogEntry)
	done := make(chan struct{})
	go func() {
		b.run(ch)
		close(done)
	}()

	ch <- logger.LogEntry{Message: "subscribed"}
	close(ch)
	<-done

	got := b.Recent()
	require.Len(t, got, 1)
	assert.Equal(t, "subscribed", got[0].Message)
}
