package wthttp

// Wire messages for the tower HTTP API, per spec.md §6.

// RegisterRequest is posted to POST /register.
type RegisterRequest struct {
	UserID []byte `json:"user_id"`
}

// RegisterResponse is returned by POST /register.
type RegisterResponse struct {
	AvailableSlots        uint32 `json:"available_slots"`
	SubscriptionStart     uint32 `json:"subscription_start"`
	SubscriptionExpiry    uint32 `json:"subscription_expiry"`
	SubscriptionSignature []byte `json:"subscription_signature"`
}

// AddAppointmentRequest is posted to POST /add_appointment.
type AddAppointmentRequest struct {
	Appointment AppointmentWire `json:"appointment"`
	Signature   []byte          `json:"signature"`
}

// AppointmentWire is the wire form of wtdb.Appointment.
type AppointmentWire struct {
	Locator       []byte `json:"locator"`
	EncryptedBlob []byte `json:"encrypted_blob"`
	ToSelfDelay   uint32 `json:"to_self_delay"`
}

// AddAppointmentResponse is returned by POST /add_appointment.
type AddAppointmentResponse struct {
	AvailableSlots     uint32 `json:"available_slots"`
	StartBlock         uint32 `json:"start_block"`
	SubscriptionExpiry uint32 `json:"subscription_expiry"`
	Signature          []byte `json:"signature"`
}

// GetAppointmentRequest is posted to POST /get_appointment.
type GetAppointmentRequest struct {
	Locator   []byte `json:"locator"`
	Signature []byte `json:"signature"`
}

// GetAppointmentResponse is returned by POST /get_appointment.
type GetAppointmentResponse struct {
	Locator       []byte `json:"locator"`
	EncryptedBlob []byte `json:"encrypted_blob"`
	Status        string `json:"status"`
}
