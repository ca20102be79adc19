// app.go
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
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hxat/annostore/internal/models"
	"github.com/hxat/annostore/internal/types"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/hints"
)

// annotationDateFormat is the external timestamp representation used in
// serialized annotations and accepted by the date range search filters.
const annotationDateFormat = "2006-01-02T15:04:05 MST"

// maxSearchLimit caps result pages regardless of what the client requests.
const maxSearchLimit = 1000

// AppBackend stores annotations in the service's own relational database.
// The inbound payload is preserved verbatim in the row's JSON column;
// searchable attributes are projected into dedicated columns.
type AppBackend struct {
	Hooks

	db           *gorm.DB
	adminEnabled bool
	logger       *zap.Logger
}

// NewAppBackend builds a local storage backend over the given connection.
func NewAppBackend(db *gorm.DB, adminEnabled bool, logger *zap.Logger) *AppBackend {
	return &AppBackend{db: db, adminEnabled: adminEnabled, logger: logger}
}

// Name implements Backend.
func (b *AppBackend) Name() string { return "app" }

// annotationFields is the subset of the annotator payload projected into
// dedicated columns.
type annotationFields struct {
	ContextID    string `json:"contextId"`
	CollectionID string `json:"collectionId"`
	URI          string `json:"uri"`
	Media        string `json:"media"`
	User         struct {
		ID   types.FlexString `json:"id"`
		Name string           `json:"name"`
	} `json:"user"`
	Text        string                 `json:"text"`
	Quote       string                 `json:"quote"`
	Tags        types.FlexList[string] `json:"tags"`
	Parent      types.FlexString       `json:"parent"`
	Permissions struct {
		Read []string `json:"read"`
	} `json:"permissions"`
}

// Create stores a new annotation. A reply bumps its parent's comment
// counter in the same transaction.
func (b *AppBackend) Create(r *Request) (*Response, error) {
	return b.createOrUpdate(r, "")
}

// Update replaces an existing annotation's payload and projections. The
// parent link and comment counters are not touched: a reply cannot be
// re-homed to another thread.
func (b *AppBackend) Update(r *Request, annotationID string) (*Response, error) {
	return b.createOrUpdate(r, annotationID)
}

func (b *AppBackend) createOrUpdate(r *Request, annotationID string) (*Response, error) {
	body := r.Body
	if b.adminEnabled {
		var err error
		body, err = RewritePermissions(body)
		if err != nil {
			return nil, err
		}
	}

	var fields annotationFields
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("malformed annotation payload: %w", err)
	}

	create := annotationID == ""
	var anno models.Annotation
	err := b.db.Transaction(func(tx *gorm.DB) error {
		if !create {
			if err := tx.First(&anno, "id = ?", annotationID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return types.NotFound(fmt.Sprintf("annotation %s not found", annotationID))
				}
				return err
			}
		}

		anno.ContextID = fields.ContextID
		anno.CollectionID = fields.CollectionID
		anno.URI = fields.URI
		anno.Media = fields.Media
		anno.UserID = fields.User.ID.String()
		anno.UserName = fields.User.Name
		anno.Text = fields.Text
		anno.Quote = fields.Quote
		anno.IsPrivate = len(fields.Permissions.Read) > 0
		anno.JSON = models.JSON{JSON: datatypes.JSON(body)}

		if create {
			if p := fields.Parent.String(); p != "" && p != "0" {
				parentID, err := fields.Parent.Uint64()
				if err != nil {
					return fmt.Errorf("invalid parent id %q: %w", p, err)
				}
				anno.ParentID = &parentID
			}
		}

		if err := tx.Save(&anno).Error; err != nil {
			return err
		}

		if create && anno.ParentID != nil {
			// relative update so concurrent replies don't lose counts
			if err := tx.Model(&models.Annotation{}).
				Where("id = ?", *anno.ParentID).
				UpdateColumn("total_comments", gorm.Expr("total_comments + ?", 1)).Error; err != nil {
				return err
			}
		}

		return b.replaceTags(tx, &anno, fields.Tags.Slice(), create)
	})
	if err != nil {
		return nil, err
	}

	return b.serialize(&anno)
}

// replaceTags rebuilds the annotation's tag set. Tag rows are shared across
// annotations and created on first use.
func (b *AppBackend) replaceTags(tx *gorm.DB, anno *models.Annotation, names []string, create bool) error {
	if !create {
		if err := tx.Model(anno).Association("Tags").Clear(); err != nil {
			return err
		}
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var tag models.AnnotationTag
		if err := tx.Where("name = ?", name).
			FirstOrCreate(&tag, models.AnnotationTag{Name: name}).Error; err != nil {
			return err
		}
		if err := tx.Model(anno).Association("Tags").Append(&tag); err != nil {
			return err
		}
	}
	return nil
}

// Delete soft-deletes an annotation and, for replies, decrements the
// parent's comment counter. The row stays in place so the external id
// remains resolvable.
func (b *AppBackend) Delete(r *Request, annotationID string) (*Response, error) {
	b.logger.Info("soft deleting annotation", zap.String("annotation_id", annotationID))

	var anno models.Annotation
	err := b.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&anno, "id = ?", annotationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.NotFound(fmt.Sprintf("annotation %s not found", annotationID))
			}
			return err
		}

		anno.IsDeleted = true
		if err := tx.Save(&anno).Error; err != nil {
			return err
		}

		if anno.ParentID != nil {
			if err := tx.Model(&models.Annotation{}).
				Where("id = ?", *anno.ParentID).
				UpdateColumn("total_comments", gorm.Expr("total_comments - ?", 1)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return b.serialize(&anno)
}

// Read fetches one annotation by id, deleted or not.
func (b *AppBackend) Read(r *Request, annotationID string) (*Response, error) {
	var anno models.Annotation
	if err := b.db.First(&anno, "id = ?", annotationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NotFound(fmt.Sprintf("annotation %s not found", annotationID))
		}
		return nil, err
	}
	return b.serialize(&anno)
}

// Search runs the column-backed filters and returns a paged result
// envelope. Non-staff callers only see public annotations plus their own
// private ones. Deleted annotations are not filtered out here; clients
// inspect the deleted flag.
func (b *AppBackend) Search(r *Request) (*Response, error) {
	q := b.db.Model(&models.Annotation{}).
		Clauses(hints.CommentBefore("select", "annotation_search"))

	if v := r.Query.Get("contextId"); v != "" {
		q = q.Where("annotations.context_id = ?", v)
	}
	if v := r.Query.Get("collectionId"); v != "" {
		q = q.Where("annotations.collection_id = ?", v)
	}
	if v := r.Query.Get("uri"); v != "" {
		q = q.Where("annotations.uri = ?", v)
	}
	if v := r.Query.Get("media"); v != "" {
		q = q.Where("annotations.media = ?", v)
	}
	if v := r.Query.Get("userid"); v != "" {
		q = q.Where("annotations.user_id = ?", v)
	}
	if v := r.Query.Get("parentid"); v != "" {
		q = q.Where("annotations.parent_id = ?", v)
	}
	if v := r.Query.Get("username"); v != "" {
		q = q.Where("LOWER(annotations.user_name) LIKE ?", containsPattern(v))
	}
	if v := r.Query.Get("text"); v != "" {
		q = q.Where("LOWER(annotations.text) LIKE ?", containsPattern(v))
	}
	if v := r.Query.Get("quote"); v != "" {
		q = q.Where("LOWER(annotations.quote) LIKE ?", containsPattern(v))
	}
	if v := r.Query.Get("tag"); v != "" {
		q = q.Joins("JOIN annotation_tag_links atl ON atl.annotation_id = annotations.id").
			Joins("JOIN annotation_tags tags ON tags.id = atl.annotation_tag_id").
			Where("LOWER(tags.name) = ?", strings.ToLower(v))
	}
	if v := r.Query.Get("dateCreatedOnOrAfter"); v != "" {
		ts, err := parseAnnotationDate(v)
		if err != nil {
			return nil, err
		}
		q = q.Where("annotations.created_at >= ?", ts)
	}
	if v := r.Query.Get("dateCreatedOnOrBefore"); v != "" {
		ts, err := parseAnnotationDate(v)
		if err != nil {
			return nil, err
		}
		q = q.Where("annotations.created_at <= ?", ts)
	}

	if !r.Session.IsStaff {
		q = q.Where(
			b.db.Where("annotations.is_private = ?", false).
				Or("annotations.is_private = ? AND annotations.user_id = ?", true, r.Session.UserID),
		)
	}

	// reusable builder: Count and Find each start from a clean statement
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}

	limit := maxSearchLimit
	if v, ok := parseDigits(r.Query.Get("limit")); ok && v < maxSearchLimit {
		limit = v
	}
	offset := 0
	if v, ok := parseDigits(r.Query.Get("offset")); ok {
		offset = v
		if int64(offset) > total {
			offset = int(total)
		}
	}

	var annotations []models.Annotation
	if err := q.Limit(limit).Offset(offset).Find(&annotations).Error; err != nil {
		return nil, err
	}

	rows := make([]map[string]interface{}, 0, len(annotations))
	for i := range annotations {
		row, err := b.serializeAnnotation(&annotations[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	return JSONResponse(http.StatusOK, map[string]interface{}{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"size":   len(rows),
		"rows":   rows,
	}), nil
}

// serializeAnnotation reconstructs the external representation: the stored
// payload overlaid with server-owned fields. Thread roots also report their
// live reply count.
func (b *AppBackend) serializeAnnotation(anno *models.Annotation) (map[string]interface{}, error) {
	data := make(map[string]interface{})
	if len(anno.JSON.JSON) > 0 {
		if err := json.Unmarshal(anno.JSON.JSON, &data); err != nil {
			return nil, fmt.Errorf("stored payload for annotation %d is not valid JSON: %w", anno.ID, err)
		}
	}
	data["id"] = anno.ID
	data["deleted"] = anno.IsDeleted
	data["created"] = anno.CreatedAt.UTC().Format(annotationDateFormat)
	data["updated"] = anno.UpdatedAt.UTC().Format(annotationDateFormat)
	if anno.ParentID == nil {
		data["totalComments"] = anno.TotalComments
	}
	return data, nil
}

func (b *AppBackend) serialize(anno *models.Annotation) (*Response, error) {
	data, err := b.serializeAnnotation(anno)
	if err != nil {
		return nil, err
	}
	return JSONResponse(http.StatusOK, data), nil
}

func parseAnnotationDate(v string) (time.Time, error) {
	ts, err := time.Parse(annotationDateFormat, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date filter %q: %w", v, err)
	}
	return ts, nil
}

func containsPattern(v string) string {
	return "%" + strings.ToLower(v) + "%"
}

// parseDigits accepts only unsigned decimal input. Anything else, including
// signs and whitespace, is ignored by the caller.
func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
