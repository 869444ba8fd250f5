package exchange

import "fmt"

// Credentials carries the API key pair for one exchange account.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// New builds a client for the named exchange. Sandbox mode is applied
// here when the exchange supports it, so callers get a ready client.
func New(id string, creds Credentials, sandbox bool) (Client, error) {
	var client Client
	switch id {
	case "binance":
		client = NewBinanceClient(creds.APIKey, creds.SecretKey)
	case "mock":
		client = NewMockClient()
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", id)
	}

	if sandbox {
		if !client.Capabilities().Has(CapSandbox) {
			return nil, fmt.Errorf("exchange %s has no sandbox mode", id)
		}
		client.SetSandboxMode(true)
	}
	return client, nil
}
