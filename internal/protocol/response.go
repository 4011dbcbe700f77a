package protocol

// Response is implemented by AuthResponse and CommandResponse.
type Response interface {
	ResponseID() int32
	ResponseType() ResponseType
	ResponseBody() string
}

// AuthResponse is the server's answer to an auth request.
type AuthResponse struct {
	ID   int32
	Type ResponseType
	Body string
}

// Success reports whether the server accepted the password.
func (r AuthResponse) Success() bool {
	return r.ID != AuthFailureID
}

func (r AuthResponse) ResponseID() int32          { return r.ID }
func (r AuthResponse) ResponseType() ResponseType { return r.Type }
func (r AuthResponse) ResponseBody() string       { return r.Body }

// CommandResponse is the output of an executed command. Its body may be
// the concatenation of several packets.
type CommandResponse struct {
	ID   int32
	Type ResponseType
	Body string
}

func (r CommandResponse) ResponseID() int32          { return r.ID }
func (r CommandResponse) ResponseType() ResponseType { return r.Type }
func (r CommandResponse) ResponseBody() string       { return r.Body }

// WithBody returns a copy of r carrying body.
func (r CommandResponse) WithBody(body string) CommandResponse {
	r.Body = body
	return r
}

// Classify maps a decoded packet to its response variant.
func Classify(p Packet) (Response, error) {
	switch p.Type {
	case ResponseAuth:
		return AuthResponse{ID: p.ID, Type: p.Type, Body: p.Body}, nil
	case ResponseValue:
		return CommandResponse{ID: p.ID, Type: p.Type, Body: p.Body}, nil
	default:
		return nil, UnsupportedResponseType(p.Type)
	}
}
