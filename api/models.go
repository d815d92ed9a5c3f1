package api

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse acknowledges an action that returns no resource.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest is the JSON body for POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateUserRequest is the JSON body for POST /users/.
type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateUserRequest is the JSON body for PUT /users/{email}.
type UpdateUserRequest struct {
	Password string `json:"password"`
}

// UserResponse describes an account. Passwords are never returned.
type UserResponse struct {
	Email     string `json:"email"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ListUsersResponse is returned from GET /users/.
type ListUsersResponse struct {
	Users []UserResponse `json:"users"`
	PaginationMeta
}
