package v1

type FieldserveClient struct {
	Transport  *Transport
	WorkOrders *WorkOrderEndpoint
}

// NewFieldserveClient initializes the API client
func NewFieldserveClient(baseURL string, token string) *FieldserveClient {
	t := NewTransport(baseURL, token)
	return &FieldserveClient{
		Transport:  t,
		WorkOrders: &WorkOrderEndpoint{transport: t},
	}
}
