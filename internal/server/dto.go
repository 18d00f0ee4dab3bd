package server

import (
	"brandline/internal/domain"
	"brandline/internal/engine"
)

// Request payloads

type CreateJobRequest struct {
	ClientName    string `json:"client_name,omitempty"`
	ClientSurname string `json:"client_surname,omitempty"`
	Phone         string `json:"phone" example:"+998901112233"`
	BrandName     string `json:"brand_name,omitempty"`
	PersonType    string `json:"person_type" enum:"legal-entity,individual"`
	OperatorID    string `json:"operator_id,omitempty" doc:"Owning operator; honoured for admins only"`
}

// ExpectedRequest is the body shared by actions without a payload.
type ExpectedRequest struct {
	ExpectedStatus string `json:"expected_status,omitempty" doc:"Reject with 409 unless the job is in this status"`
}

type SendForReviewRequest struct {
	BrandName      string `json:"brand_name,omitempty" doc:"Required unless the job already has a brand"`
	ExpectedStatus string `json:"expected_status,omitempty"`
}

type ReviewRequest struct {
	Decision       string `json:"decision" enum:"approve,reject"`
	Reason         string `json:"reason,omitempty" doc:"Required when rejecting"`
	ExpectedStatus string `json:"expected_status,omitempty"`
}

// AttachmentRequest carries a file inline; content is base64 in JSON.
type AttachmentRequest struct {
	Name    string `json:"name"`
	Content []byte `json:"content" contentEncoding:"base64"`
}

type SubmitDocumentsRequest struct {
	Documents      domain.Documents    `json:"documents"`
	Attachments    []AttachmentRequest `json:"attachments,omitempty"`
	ExpectedStatus string              `json:"expected_status,omitempty"`
}

type CompleteRequest struct {
	Certificates   []string            `json:"certificates,omitempty"`
	Attachments    []AttachmentRequest `json:"attachments,omitempty"`
	ExpectedStatus string              `json:"expected_status,omitempty"`
}

type ForceStatusRequest struct {
	Status         string `json:"status"`
	ExpectedStatus string `json:"expected_status"`
	Reason         string `json:"reason"`
}

type CreateUserRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role" enum:"operator,checker,lawyer,admin"`
	Active *bool  `json:"active,omitempty" doc:"Defaults to true"`
	ChatID int64  `json:"chat_id,omitempty" doc:"Telegram chat for personal notifications"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

type IssueKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Responses

type TransitionResponse struct {
	Job   domain.Job          `json:"job"`
	Entry domain.HistoryEntry `json:"entry"`
}

// JobDetail is a job with the actions its caller may take next.
type JobDetail struct {
	domain.Job
	Actions []domain.Action `json:"actions" doc:"Actions the caller may take from the current status"`
}

type JobListResponse struct {
	Items      []domain.Job `json:"items"`
	NextCursor int64        `json:"next_cursor,omitempty"`
}

type HistoryResponse struct {
	Items []domain.HistoryEntry `json:"items"`
}

type CompletedResponse struct {
	Items []domain.CompletedJob `json:"items"`
}

type UserListResponse struct {
	Items []domain.User `json:"items"`
}

type IssueKeyResponse struct {
	Key    string        `json:"key" doc:"Plaintext key; shown once"`
	APIKey domain.APIKey `json:"api_key"`
}

type WhoAmIResponse struct {
	ActorID string      `json:"actor_id"`
	Role    domain.Role `json:"role"`
	Source  string      `json:"source"`
}

func transitionResponse(res engine.Result) TransitionResponse {
	return TransitionResponse{Job: res.Job, Entry: res.Entry}
}

func attachments(in []AttachmentRequest) []engine.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]engine.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, engine.Attachment{Name: a.Name, Content: a.Content})
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
