// Package store implements the annotation storage abstraction: a dispatcher
// that authorizes each request against the LTI launch session and delegates
// to one of two interchangeable backends.
//
// The backend determines where annotations live:
//
//  1. catch - a separate annotation database service with its own REST API,
//     reached over HTTP.
//  2. app   - a local relational store managed by this service.
//
// Client code should not instantiate backend types directly; New selects the
// backend from configuration.
package store

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/hxat/annostore/internal/lti"
)

// AdminGroupID is the reserved identifier granting course administrators
// read access to private annotations without hardcoding user ids.
const AdminGroupID = "__admin__"

// AuthTokenHeader carries the opaque per-user annotator auth token.
const AuthTokenHeader = "x-annotator-auth-token"

// Request is an inbound annotation request with its LTI launch context.
type Request struct {
	Session *lti.Session
	Query   url.Values
	Body    []byte
	Header  http.Header
}

// AuthToken returns the caller's annotator auth token, or a sentinel that
// the remote database will reject.
func (r *Request) AuthToken() string {
	if r.Header != nil {
		if v := r.Header.Get(AuthTokenHeader); v != "" {
			return v
		}
	}
	return "!!MISSING!!"
}

// Response is an HTTP-shaped backend result passed through to the caller.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the backend write succeeded.
func (r *Response) OK() bool {
	return r.StatusCode == http.StatusOK
}

// JSONResponse marshals v into a Response body.
func JSONResponse(status int, v interface{}) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		// v is always a map or struct assembled by this package
		panic(err)
	}
	return &Response{StatusCode: status, Body: body}
}

// Backend is a storage strategy. Exactly two variants exist: the remote
// proxy (CatchBackend) and the local relational store (AppBackend).
//
// The Before hooks give a backend the chance to rewrite its own auth state
// ahead of an operation; Hooks provides no-op defaults so each variant only
// overrides what it needs and every variant has determinate behavior.
type Backend interface {
	Name() string
	Search(r *Request) (*Response, error)
	Create(r *Request) (*Response, error)
	Update(r *Request, annotationID string) (*Response, error)
	Delete(r *Request, annotationID string) (*Response, error)

	BeforeSearch(r *Request) error
	BeforeCreate(r *Request) error
	BeforeUpdate(r *Request, annotationID string) error
	BeforeDelete(r *Request, annotationID string) error
}

// Reader is implemented by backends that can fetch one annotation by id.
type Reader interface {
	Read(r *Request, annotationID string) (*Response, error)
}

// Hooks supplies no-op defaults for the optional Before hooks.
type Hooks struct{}

func (Hooks) BeforeSearch(*Request) error         { return nil }
func (Hooks) BeforeCreate(*Request) error         { return nil }
func (Hooks) BeforeUpdate(*Request, string) error { return nil }
func (Hooks) BeforeDelete(*Request, string) error { return nil }
