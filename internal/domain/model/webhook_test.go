package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryStatus_Terminal(t *testing.T) {
	assert.False(t, DeliveryStatusPending.Terminal())
	assert.False(t, DeliveryStatusRunning.Terminal())
	assert.True(t, DeliveryStatusSuccess.Terminal())
	assert.True(t, DeliveryStatusFailed.Terminal())
}

func TestCreateSubscriptionRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateSubscriptionRequest
		wantErr string
	}{
		{
			name: "valid https",
			req:  CreateSubscriptionRequest{URL: "https://hooks.example.com/in", Secret: "s3cret"},
		},
		{
			name: "valid http",
			req:  CreateSubscriptionRequest{URL: "http://localhost:9999/hook", Secret: "s3cret"},
		},
		{
			name:    "missing url",
			req:     CreateSubscriptionRequest{Secret: "s3cret"},
			wantErr: "url is required",
		},
		{
			name:    "bad scheme",
			req:     CreateSubscriptionRequest{URL: "ftp://example.com/x", Secret: "s3cret"},
			wantErr: "url must be a valid http(s) URL",
		},
		{
			name:    "no host",
			req:     CreateSubscriptionRequest{URL: "https://", Secret: "s3cret"},
			wantErr: "url must be a valid http(s) URL",
		},
		{
			name:    "missing secret",
			req:     CreateSubscriptionRequest{URL: "https://hooks.example.com/in", Secret: "  "},
			wantErr: "secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

func TestCreateSubscriptionRequest_Normalize(t *testing.T) {
	req := CreateSubscriptionRequest{URL: "  https://hooks.example.com/in ", Secret: " abc \n"}
	req.Normalize()
	assert.Equal(t, "https://hooks.example.com/in", req.URL)
	assert.Equal(t, "abc", req.Secret)
}
