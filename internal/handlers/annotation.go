// annotation.go
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

package handlers

import (
	"net/http"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/hxat/annostore/internal/middleware"
	"github.com/hxat/annostore/internal/store"
	"github.com/hxat/annostore/internal/utils"
)

// AnnotationHandler handles the annotation API routes
type AnnotationHandler struct {
	Store *store.Store
}

// storeRequest assembles a dispatcher request from the fiber context. The
// session middleware has already run, so the session is never nil here.
func (h *AnnotationHandler) storeRequest(c *fiber.Ctx) *store.Request {
	query, _ := url.ParseQuery(string(c.Request().URI().QueryString()))

	header := make(http.Header)
	if token := c.Get(store.AuthTokenHeader); token != "" {
		header.Set(store.AuthTokenHeader, token)
	}

	return &store.Request{
		Session: middleware.Session(c),
		Query:   query,
		Body:    c.Body(),
		Header:  header,
	}
}

// Root handles GET /annotation_api/
// @Summary Identify the annotation store
// @Description Report which storage backend serves this deployment
// @Tags Annotations
// @Produce json
// @Success 200 {object} map[string]string
// @Router /annotation_api/ [get]
func (h *AnnotationHandler) Root(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"name":    "annotation store",
		"backend": h.Store.BackendName(),
		"version": middleware.APIVersion(c),
	})
}

// Search handles GET /annotation_api/search
// @Summary Search annotations
// @Description Search annotations within the launch course. Results are paged and filtered per the caller's role.
// @Tags Annotations
// @Produce json
// @Param contextId query string false "Course context id (must match the launch session)"
// @Param collectionId query string false "Collection id"
// @Param uri query string false "Target document URI"
// @Param media query string false "Media type (text, image, video, audio, comment)"
// @Param userid query string false "Author user id"
// @Param username query string false "Author display name substring"
// @Param parentid query string false "Thread parent id"
// @Param tag query string false "Tag name"
// @Param text query string false "Body text substring"
// @Param quote query string false "Quoted passage substring"
// @Param limit query int false "Page size, capped at 1000"
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /annotation_api/search [get]
func (h *AnnotationHandler) Search(c *fiber.Ctx) error {
	resp, err := h.Store.Search(h.storeRequest(c))
	if err != nil {
		return err
	}
	return utils.BackendResponse(c, resp.StatusCode, resp.Body)
}

// Create handles POST /annotation_api/create
// @Summary Create an annotation
// @Description Store a new annotation authored by the launch user
// @Tags Annotations
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 500 {object} utils.ErrorResponseStruct
// @Router /annotation_api/create [post]
func (h *AnnotationHandler) Create(c *fiber.Ctx) error {
	resp, err := h.Store.Create(h.storeRequest(c))
	if err != nil {
		return err
	}
	return utils.BackendResponse(c, resp.StatusCode, resp.Body)
}

// Read handles GET /annotation_api/read/:annotation_id
// @Summary Read one annotation
// @Description Fetch a single annotation by id. Only supported by the local storage backend.
// @Tags Annotations
// @Produce json
// @Param annotation_id path string true "Annotation ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} utils.ErrorResponseStruct
// @Failure 405 {object} map[string]string
// @Router /annotation_api/read/{annotation_id} [get]
func (h *AnnotationHandler) Read(c *fiber.Ctx) error {
	resp, err := h.Store.Read(h.storeRequest(c), c.Params("annotation_id"))
	if err != nil {
		return err
	}
	return utils.BackendResponse(c, resp.StatusCode, resp.Body)
}

// Update handles POST /annotation_api/update/:annotation_id
// @Summary Update an annotation
// @Description Replace an annotation's payload
// @Tags Annotations
// @Accept json
// @Produce json
// @Param annotation_id path string true "Annotation ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /annotation_api/update/{annotation_id} [post]
func (h *AnnotationHandler) Update(c *fiber.Ctx) error {
	resp, err := h.Store.Update(h.storeRequest(c), c.Params("annotation_id"))
	if err != nil {
		return err
	}
	return utils.BackendResponse(c, resp.StatusCode, resp.Body)
}

// Delete handles DELETE /annotation_api/delete/:annotation_id and the
// legacy alias /annotation_api/destroy/:annotation_id
// @Summary Delete an annotation
// @Description Soft-delete an annotation. The local backend keeps the row and flags it deleted.
// @Tags Annotations
// @Produce json
// @Param annotation_id path string true "Annotation ID"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /annotation_api/delete/{annotation_id} [delete]
func (h *AnnotationHandler) Delete(c *fiber.Ctx) error {
	resp, err := h.Store.Delete(h.storeRequest(c), c.Params("annotation_id"))
	if err != nil {
		return err
	}
	return utils.BackendResponse(c, resp.StatusCode, resp.Body)
}
