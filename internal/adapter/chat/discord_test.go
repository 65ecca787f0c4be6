package chat

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedloom/curator/internal/domain"
)

func TestMapSendErrRateLimit(t *testing.T) {
	err := mapSendErr(&discordgo.RateLimitError{
		RateLimit: &discordgo.RateLimit{
			TooManyRequests: &discordgo.TooManyRequests{RetryAfter: 2 * time.Second},
		},
	})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.True(t, domain.IsRateLimited(err))
}

func TestMapSendErr429Response(t *testing.T) {
	err := mapSendErr(&discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusTooManyRequests},
	})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestMapSendErrPassthrough(t *testing.T) {
	plain := errors.New("channel deleted")
	err := mapSendErr(plain)
	assert.False(t, domain.IsRateLimited(err))
	assert.ErrorIs(t, err, plain)
}

func TestLogPublisherAlwaysSucceeds(t *testing.T) {
	p := NewLogPublisher()
	require.NoError(t, p.Send(context.Background(), "**9.0** · example\n\n**title**\n\nhttps://example.com"))
}
