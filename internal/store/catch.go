// catch.go
//
// Annotation storage facade for LTI courseware
// Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC
//
// This file is part of annostore.
// annostore is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// annostore is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.
// You should have received a copy of the GNU Affero General Public License along with annostore.
// If not, see <https://www.gnu.org/licenses/>.
// Additional terms under GNU AGPL version 3 section 7:
// a) The reasonable legal notice of original copyright and author attribution must be preserved
//    by including the string: "Copyright (c) 2026 Alex Grant <info@localnerve.com> (https://www.localnerve.com), LocalNerve LLC"
//    in this material, copies, or source code of derived works.

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hxat/annostore/internal/config"
	"github.com/hxat/annostore/internal/lti"
	"go.uber.org/zap"
)

// Bounded waits on the remote annotation database. Reads tolerate a longer
// round trip than mutations.
const (
	catchSearchTimeout = 10 * time.Second
	catchWriteTimeout  = 5 * time.Second
)

// CatchBackend proxies annotation operations to a remote annotation
// database service. It holds no per-request state: auth travels in the
// request's x-annotator-auth-token header and responses pass through
// verbatim, whatever their status code.
type CatchBackend struct {
	Hooks

	baseURL       string
	apiKey        string
	secret        string
	adminEnabled  bool
	client        *http.Client
	logger        *zap.Logger
	searchTimeout time.Duration
	writeTimeout  time.Duration
}

// NewCatchBackend builds a remote proxy backend from configuration.
func NewCatchBackend(cfg *config.Config, logger *zap.Logger) *CatchBackend {
	return &CatchBackend{
		baseURL:       cfg.AnnotationDBURL,
		apiKey:        cfg.AnnotationDBAPIKey,
		secret:        cfg.AnnotationDBSecret,
		adminEnabled:  cfg.AdminGroupEnabled(),
		client:        &http.Client{},
		logger:        logger,
		searchTimeout: catchSearchTimeout,
		writeTimeout:  catchWriteTimeout,
	}
}

// Name implements Backend.
func (b *CatchBackend) Name() string { return "catch" }

// BeforeSearch re-mints the outbound auth token for the admin group when a
// staff member searches, so the remote database returns private annotations
// shared with administrators.
func (b *CatchBackend) BeforeSearch(r *Request) error {
	if !b.adminEnabled || !r.Session.IsStaff {
		return nil
	}
	token, err := lti.RetrieveToken(AdminGroupID, b.apiKey, b.secret)
	if err != nil {
		return fmt.Errorf("minting admin search token: %w", err)
	}
	b.logger.Info("updating auth token for admin search")
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Set(AuthTokenHeader, token)
	return nil
}

// Search forwards the query string untouched.
func (b *CatchBackend) Search(r *Request) (*Response, error) {
	target := b.baseURL + "/search"
	if enc := r.Query.Encode(); enc != "" {
		target += "?" + enc
	}
	return b.do(http.MethodGet, target, nil, r, b.searchTimeout)
}

// Create forwards the payload, rewriting permissions first when the admin
// group is enabled.
func (b *CatchBackend) Create(r *Request) (*Response, error) {
	body, err := b.outboundBody(r)
	if err != nil {
		return nil, err
	}
	return b.do(http.MethodPost, b.baseURL+"/create", body, r, b.writeTimeout)
}

// Update forwards the payload, rewriting permissions first when the admin
// group is enabled.
func (b *CatchBackend) Update(r *Request, annotationID string) (*Response, error) {
	body, err := b.outboundBody(r)
	if err != nil {
		return nil, err
	}
	return b.do(http.MethodPost, b.baseURL+"/update/"+annotationID, body, r, b.writeTimeout)
}

// Delete forwards the delete without a body.
func (b *CatchBackend) Delete(r *Request, annotationID string) (*Response, error) {
	return b.do(http.MethodDelete, b.baseURL+"/delete/"+annotationID, nil, r, b.writeTimeout)
}

func (b *CatchBackend) outboundBody(r *Request) ([]byte, error) {
	if !b.adminEnabled {
		return r.Body, nil
	}
	return RewritePermissions(r.Body)
}

// do performs the outbound request. A timeout is not an error: it becomes a
// synthetic 500 response so the caller still gets an HTTP-shaped result.
func (b *CatchBackend) do(method, target string, body []byte, r *Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("building annotation database request: %w", err)
	}
	req.Header.Set(AuthTokenHeader, r.AuthToken())
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			b.logger.Error("annotation database request timed out",
				zap.String("method", method),
				zap.String("url", target))
			return JSONResponse(http.StatusInternalServerError, map[string]string{
				"error": "request timeout",
			}), nil
		}
		return nil, fmt.Errorf("annotation database request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading annotation database response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
