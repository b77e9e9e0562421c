package consul

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterService_InvalidAddress(t *testing.T) {
	client, err := NewClient("127.0.0.1:1")
	require.NoError(t, err)

	assert.Error(t, RegisterService(client, "storefront", "storefront-1", "no-port"))
	assert.Error(t, RegisterService(client, "storefront", "storefront-1", "host:http"))
}

func TestRegisterService_AgentUnreachable(t *testing.T) {
	client, err := NewClient("127.0.0.1:1")
	require.NoError(t, err)

	err = RegisterService(client, "storefront", "storefront-1", ":8080")
	assert.ErrorContains(t, err, "failed to register service storefront")
}
