// dispatcher.go
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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hxat/annostore/internal/config"
	"github.com/hxat/annostore/internal/lti"
	"github.com/hxat/annostore/internal/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// outcomeService posts grades back to the tool consumer. Satisfied by
// *lti.OutcomeClient.
type outcomeService interface {
	PostReplaceResult(launchParams map[string]string, score float64) (*lti.Outcome, error)
}

// Store authorizes annotation requests against the LTI launch session and
// dispatches them to the configured backend. Successful mutations feed the
// stats accumulator and, for graded launches, grade passback.
type Store struct {
	backend  Backend
	stats    *StatsAccumulator
	outcomes outcomeService
	logger   *zap.Logger
}

// New selects the backend from configuration, once at startup. The database
// connection may be nil for a catch deployment that does not gather
// statistics.
func New(cfg *config.Config, db *gorm.DB, logger *zap.Logger) (*Store, error) {
	var backend Backend
	switch cfg.StoreBackend {
	case config.BackendCatch:
		backend = NewCatchBackend(cfg, logger)
	case config.BackendApp:
		if db == nil {
			return nil, fmt.Errorf("app backend requires a database connection")
		}
		backend = NewAppBackend(db, cfg.AdminGroupEnabled(), logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if cfg.GatherStatistics && db == nil {
		return nil, fmt.Errorf("gathering statistics requires a database connection")
	}

	return &Store{
		backend:  backend,
		stats:    NewStatsAccumulator(db, cfg.GatherStatistics, logger),
		outcomes: lti.NewOutcomeClient(cfg.ConsumerKey, cfg.LTISecret),
		logger:   logger,
	}, nil
}

// BackendName reports which backend this store dispatches to.
func (s *Store) BackendName() string { return s.backend.Name() }

// requestIdentity is the course/user claim carried in a mutation payload,
// checked against the launch session before the backend runs.
type requestIdentity struct {
	ContextID string `json:"contextId"`
	User      struct {
		ID types.FlexString `json:"id"`
	} `json:"user"`
}

func parseIdentity(body []byte) (*requestIdentity, error) {
	var ident requestIdentity
	if err := json.Unmarshal(body, &ident); err != nil {
		return nil, types.BadRequest(fmt.Sprintf("malformed annotation payload: %v", err))
	}
	return &ident, nil
}

// Search authorizes the query against the launch course and delegates.
func (s *Store) Search(r *Request) (*Response, error) {
	if err := s.verifyCourse(r, r.Query.Get("contextId")); err != nil {
		return nil, err
	}
	if err := s.backend.BeforeSearch(r); err != nil {
		return nil, err
	}
	return s.backend.Search(r)
}

// Create authorizes the payload's course and author claims, delegates, then
// runs grade passback and the stats accumulator on success.
func (s *Store) Create(r *Request) (*Response, error) {
	ident, err := parseIdentity(r.Body)
	if err != nil {
		return nil, err
	}
	if err := s.verifyCourse(r, ident.ContextID); err != nil {
		return nil, err
	}
	if err := s.verifyUser(r, ident.User.ID.String()); err != nil {
		return nil, err
	}
	if err := s.backend.BeforeCreate(r); err != nil {
		return nil, err
	}

	resp, err := s.backend.Create(r)
	if err != nil {
		return nil, err
	}

	s.gradePassback(r, resp)
	if resp.OK() {
		if err := s.stats.Update(ActionCreate, resp.Body); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Update re-validates the course and author claims carried in the new
// payload, not the stored annotation, matching the remote backend which
// forwards without reading stored rows.
func (s *Store) Update(r *Request, annotationID string) (*Response, error) {
	ident, err := parseIdentity(r.Body)
	if err != nil {
		return nil, err
	}
	if err := s.verifyCourse(r, ident.ContextID); err != nil {
		return nil, err
	}
	if err := s.verifyUser(r, ident.User.ID.String()); err != nil {
		return nil, err
	}
	if err := s.backend.BeforeUpdate(r, annotationID); err != nil {
		return nil, err
	}

	resp, err := s.backend.Update(r, annotationID)
	if err != nil {
		return nil, err
	}

	if resp.OK() {
		if err := s.stats.Update(ActionUpdate, resp.Body); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Delete authorizes against the request body's claims like Update. The
// client sends the annotation being deleted as the body; a delete without
// verifiable claims never reaches the backend.
func (s *Store) Delete(r *Request, annotationID string) (*Response, error) {
	ident, err := parseIdentity(r.Body)
	if err != nil {
		return nil, err
	}
	if err := s.verifyCourse(r, ident.ContextID); err != nil {
		return nil, err
	}
	if err := s.verifyUser(r, ident.User.ID.String()); err != nil {
		return nil, err
	}
	if err := s.backend.BeforeDelete(r, annotationID); err != nil {
		return nil, err
	}

	resp, err := s.backend.Delete(r, annotationID)
	if err != nil {
		return nil, err
	}

	if resp.OK() {
		if err := s.stats.Update(ActionDelete, resp.Body); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// Read fetches a single annotation when the backend supports it. The remote
// backend has no read endpoint, so it answers 405.
func (s *Store) Read(r *Request, annotationID string) (*Response, error) {
	reader, ok := s.backend.(Reader)
	if !ok {
		return JSONResponse(http.StatusMethodNotAllowed, map[string]string{
			"error": fmt.Sprintf("read is not supported by the %s backend", s.backend.Name()),
		}), nil
	}
	return reader.Read(r, annotationID)
}

func (s *Store) verifyCourse(r *Request, contextID string) error {
	if contextID == r.Session.ContextID {
		return nil
	}
	s.logger.Warn("course verification failed",
		zap.String("expected", r.Session.ContextID),
		zap.String("actual", contextID))
	return types.Forbidden("course verification failed", "store.authorization.course")
}

func (s *Store) verifyUser(r *Request, userID string) error {
	if userID == r.Session.UserID || r.Session.IsStaff {
		return nil
	}
	s.logger.Warn("user verification failed",
		zap.String("expected", r.Session.UserID),
		zap.String("actual", userID))
	return types.Forbidden("user verification failed", "store.authorization.user")
}

// gradePassback posts a participation score of 1 for graded launches after
// a successful create. Outcome failures are logged, never surfaced: a
// gradebook hiccup must not fail the annotation.
func (s *Store) gradePassback(r *Request, resp *Response) {
	if !r.Session.IsGraded {
		return
	}
	if !resp.OK() {
		s.logger.Info("skipping grade passback, backend write failed",
			zap.Int("status_code", resp.StatusCode))
		return
	}

	outcome, err := s.outcomes.PostReplaceResult(r.Session.LaunchParams, 1)
	if err != nil {
		s.logger.Error("error submitting grade outcome", zap.Error(err))
		return
	}
	if outcome.Success {
		s.logger.Info("lti grade request succeeded", zap.String("description", outcome.Description))
	} else {
		s.logger.Error("lti grade request failed", zap.String("description", outcome.Description))
	}
}
