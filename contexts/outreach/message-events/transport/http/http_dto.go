package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type WebhookAcceptedResponse struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
	Events     int    `json:"events"`
}

type ReplayDeliveryResponse struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
	Events     int    `json:"events"`
}
