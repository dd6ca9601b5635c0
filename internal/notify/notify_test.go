package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorAndMulti(t *testing.T) {
	var a, b Collector
	n := Multi(&a, nil, &b)

	n.Notify(Notice{Level: Warning, Message: "one"})
	n.Notify(Notice{Level: Info, Message: "two"})

	assert.Len(t, a.Notices(), 2)
	assert.Equal(t, "two", b.Notices()[1].Message)
}

func TestChannelDropsWhenFull(t *testing.T) {
	ch := make(Channel, 1)
	ch.Notify(Notice{Message: "kept"})
	ch.Notify(Notice{Message: "dropped"})

	assert.Len(t, ch, 1)
	assert.Equal(t, "kept", (<-ch).Message)
}

func TestFromContext(t *testing.T) {
	fallback := FromContext(context.Background())
	assert.NotNil(t, fallback)
	assert.NotPanics(t, func() { fallback.Notify(Notice{Message: "ignored"}) })

	var c Collector
	ctx := WithNotifier(context.Background(), &c)
	FromContext(ctx).Notify(Notice{Message: "hi"})
	assert.Len(t, c.Notices(), 1)
}
