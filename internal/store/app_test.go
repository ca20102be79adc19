package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/hxat/annostore/internal/lti"
	"github.com/hxat/annostore/internal/models"
	"github.com/hxat/annostore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to create test database")

	err = db.AutoMigrate(
		&models.Annotation{},
		&models.AnnotationTag{},
		&models.UserStats{},
	)
	require.NoError(t, err, "failed to migrate test database")

	return db
}

func testSession(userID string, staff bool) *lti.Session {
	return &lti.Session{
		ContextID: "course1",
		UserID:    userID,
		IsStaff:   staff,
	}
}

func mkRequest(sess *lti.Session, query url.Values, body string) *Request {
	return &Request{
		Session: sess,
		Query:   query,
		Body:    []byte(body),
	}
}

func decodeBody(t *testing.T, resp *Response) map[string]interface{} {
	t.Helper()
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body, &data))
	return data
}

func annotationPayload(userID, media, text string, extra string) string {
	payload := fmt.Sprintf(
		`{"contextId":"course1","collectionId":"col1","uri":"doc1","media":%q,`+
			`"user":{"id":%q,"name":"User %s"},"text":%q,"quote":"a passage","permissions":{"read":[]}`,
		media, userID, userID, text)
	if extra != "" {
		payload += "," + extra
	}
	return payload + "}"
}

func createAnnotation(t *testing.T, b *AppBackend, sess *lti.Session, payload string) map[string]interface{} {
	t.Helper()
	resp, err := b.Create(mkRequest(sess, nil, payload))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	return decodeBody(t, resp)
}

func annotationID(data map[string]interface{}) string {
	return fmt.Sprintf("%.0f", data["id"].(float64))
}

func TestAppCreateRoot(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", false)

	data := createAnnotation(t, b, sess, annotationPayload("u1", "text", "hello world", ""))

	assert.Equal(t, float64(1), data["id"])
	assert.Equal(t, false, data["deleted"])
	assert.Equal(t, float64(0), data["totalComments"])
	assert.Equal(t, "hello world", data["text"], "payload fields survive round trip")
	assert.NotEmpty(t, data["created"])
	assert.NotEmpty(t, data["updated"])
}

func TestAppCreateReplyIncrementsParent(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", false)

	root := createAnnotation(t, b, sess, annotationPayload("u1", "text", "root", ""))
	rootID := annotationID(root)

	reply := createAnnotation(t, b, sess,
		annotationPayload("u1", "comment", "a reply", fmt.Sprintf(`"parent":%q`, rootID)))
	_, hasTotal := reply["totalComments"]
	assert.False(t, hasTotal, "replies do not report a comment count")

	resp, err := b.Read(mkRequest(sess, nil, ""), rootID)
	require.NoError(t, err)
	assert.Equal(t, float64(1), decodeBody(t, resp)["totalComments"])
}

func TestAppCreateZeroParentIsRoot(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", false)

	data := createAnnotation(t, b, sess, annotationPayload("u1", "text", "root", `"parent":"0"`))
	assert.Equal(t, float64(0), data["totalComments"], "zero parent means thread root")
}

func TestAppUpdate(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", false)

	root := createAnnotation(t, b, sess, annotationPayload("u1", "text", "before", ""))
	id := annotationID(root)

	resp, err := b.Update(mkRequest(sess, nil, annotationPayload("u1", "text", "after", "")), id)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	data := decodeBody(t, resp)
	assert.Equal(t, root["id"], data["id"])
	assert.Equal(t, "after", data["text"])
}

func TestAppUpdateNotFound(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", false)

	_, err := b.Update(mkRequest(sess, nil, annotationPayload("u1", "text", "x", "")), "999")
	var customErr *types.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, 404, customErr.Code)
}

func TestAppDeleteSoftDeletes(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", false)

	root := createAnnotation(t, b, sess, annotationPayload("u1", "text", "root", ""))
	rootID := annotationID(root)
	reply := createAnnotation(t, b, sess,
		annotationPayload("u1", "comment", "a reply", fmt.Sprintf(`"parent":%q`, rootID)))
	replyID := annotationID(reply)

	resp, err := b.Delete(mkRequest(sess, nil, ""), replyID)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["deleted"])

	// row survives the delete
	resp, err = b.Read(mkRequest(sess, nil, ""), replyID)
	require.NoError(t, err)
	assert.Equal(t, true, decodeBody(t, resp)["deleted"])

	// parent counter went back down
	resp, err = b.Read(mkRequest(sess, nil, ""), rootID)
	require.NoError(t, err)
	assert.Equal(t, float64(0), decodeBody(t, resp)["totalComments"])
}

func TestAppReadNotFound(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())

	_, err := b.Read(mkRequest(testSession("u1", false), nil, ""), "12345")
	var customErr *types.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, 404, customErr.Code)
	assert.Equal(t, "store.notfound", customErr.Type)
}

func searchRows(t *testing.T, b *AppBackend, sess *lti.Session, query url.Values) (map[string]interface{}, []interface{}) {
	t.Helper()
	resp, err := b.Search(mkRequest(sess, query, ""))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	data := decodeBody(t, resp)
	rows, _ := data["rows"].([]interface{})
	return data, rows
}

func TestAppSearchFilters(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", true)

	createAnnotation(t, b, sess, annotationPayload("u1", "text", "the quick brown fox", `"tags":["alpha","Beta"]`))
	createAnnotation(t, b, sess, annotationPayload("u2", "image", "jumped over", `"tags":["beta"]`))
	createAnnotation(t, b, sess, annotationPayload("u3", "comment", "the lazy dog", ""))

	data, rows := searchRows(t, b, sess, url.Values{"media": {"image"}})
	assert.Equal(t, float64(1), data["total"])
	require.Len(t, rows, 1)
	assert.Equal(t, "jumped over", rows[0].(map[string]interface{})["text"])

	_, rows = searchRows(t, b, sess, url.Values{"userid": {"u3"}})
	require.Len(t, rows, 1)

	// substring match is case insensitive
	_, rows = searchRows(t, b, sess, url.Values{"username": {"user u2"}})
	require.Len(t, rows, 1)

	_, rows = searchRows(t, b, sess, url.Values{"text": {"QUICK"}})
	require.Len(t, rows, 1)

	// tag match is exact but case insensitive
	data, _ = searchRows(t, b, sess, url.Values{"tag": {"BETA"}})
	assert.Equal(t, float64(2), data["total"])

	_, rows = searchRows(t, b, sess, url.Values{"tag": {"bet"}})
	assert.Empty(t, rows)
}

func TestAppSearchPrivacy(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	u1 := testSession("u1", false)
	u2 := testSession("u2", false)
	staff := testSession("teacher", true)

	createAnnotation(t, b, u1, fmt.Sprintf(
		`{"contextId":"course1","collectionId":"col1","uri":"doc1","media":"text",`+
			`"user":{"id":"u1","name":"User One"},"text":"private note","permissions":{"read":[%q]}}`, "u1"))
	createAnnotation(t, b, u2, annotationPayload("u2", "text", "public note", ""))

	// owner sees their private annotation
	data, _ := searchRows(t, b, u1, nil)
	assert.Equal(t, float64(2), data["total"])

	// another student only sees public
	data, rows := searchRows(t, b, u2, nil)
	assert.Equal(t, float64(1), data["total"])
	require.Len(t, rows, 1)
	assert.Equal(t, "public note", rows[0].(map[string]interface{})["text"])

	// staff see everything
	data, _ = searchRows(t, b, staff, nil)
	assert.Equal(t, float64(2), data["total"])
}

func TestAppSearchPaging(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", true)

	for i := 0; i < 3; i++ {
		createAnnotation(t, b, sess, annotationPayload("u1", "text", fmt.Sprintf("note %d", i), ""))
	}

	data, rows := searchRows(t, b, sess, url.Values{"limit": {"2"}})
	assert.Equal(t, float64(3), data["total"])
	assert.Equal(t, float64(2), data["limit"])
	assert.Equal(t, float64(2), data["size"])
	assert.Len(t, rows, 2)

	// offset past the end clamps to total
	data, rows = searchRows(t, b, sess, url.Values{"offset": {"10"}})
	assert.Equal(t, float64(3), data["offset"])
	assert.Empty(t, rows)

	// non-numeric paging values fall back to defaults
	data, rows = searchRows(t, b, sess, url.Values{"limit": {"abc"}, "offset": {"-1"}})
	assert.Equal(t, float64(maxSearchLimit), data["limit"])
	assert.Equal(t, float64(0), data["offset"])
	assert.Len(t, rows, 3)
}

func TestAppSearchIncludesDeleted(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", true)

	root := createAnnotation(t, b, sess, annotationPayload("u1", "text", "to delete", ""))
	_, err := b.Delete(mkRequest(sess, nil, ""), annotationID(root))
	require.NoError(t, err)

	data, rows := searchRows(t, b, sess, nil)
	assert.Equal(t, float64(1), data["total"], "deleted annotations stay searchable")
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0].(map[string]interface{})["deleted"])
}

func TestAppSearchDateFilter(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), false, zap.NewNop())
	sess := testSession("u1", true)

	createAnnotation(t, b, sess, annotationPayload("u1", "text", "old note", ""))

	data, _ := searchRows(t, b, sess, url.Values{"dateCreatedOnOrAfter": {"2999-01-01T00:00:00 UTC"}})
	assert.Equal(t, float64(0), data["total"])

	data, _ = searchRows(t, b, sess, url.Values{"dateCreatedOnOrBefore": {"2999-01-01T00:00:00 UTC"}})
	assert.Equal(t, float64(1), data["total"])

	_, err := b.Search(mkRequest(sess, url.Values{"dateCreatedOnOrAfter": {"not-a-date"}}, ""))
	assert.Error(t, err)
}

func TestAppAdminRewriteOnCreate(t *testing.T) {
	b := NewAppBackend(setupTestDB(t), true, zap.NewNop())
	sess := testSession("u1", false)

	data := createAnnotation(t, b, sess, fmt.Sprintf(
		`{"contextId":"course1","collectionId":"col1","uri":"doc1","media":"text",`+
			`"user":{"id":"u1","name":"User One"},"text":"private","permissions":{"read":[%q]}}`, "u1"))

	perms := data["permissions"].(map[string]interface{})
	read := stringList(perms["read"])
	assert.Contains(t, read, AdminGroupID, "stored payload carries the widened read list")
}

func TestAppUpdateKeepsParent(t *testing.T) {
	db := setupTestDB(t)
	b := NewAppBackend(db, false, zap.NewNop())
	sess := testSession("u1", false)

	rootA := createAnnotation(t, b, sess, annotationPayload("u1", "text", "thread a", ""))
	rootB := createAnnotation(t, b, sess, annotationPayload("u1", "text", "thread b", ""))
	reply := createAnnotation(t, b, sess,
		annotationPayload("u1", "comment", "a reply", fmt.Sprintf(`"parent":%q`, annotationID(rootA))))

	// an update naming another parent must not re-home the reply
	_, err := b.Update(mkRequest(sess, nil,
		annotationPayload("u1", "comment", "edited", fmt.Sprintf(`"parent":%q`, annotationID(rootB)))),
		annotationID(reply))
	require.NoError(t, err)

	var anno models.Annotation
	require.NoError(t, db.First(&anno, "id = ?", annotationID(reply)).Error)
	require.NotNil(t, anno.ParentID)
	assert.Equal(t, annotationID(rootA), fmt.Sprint(*anno.ParentID))

	resp, err := b.Read(mkRequest(sess, nil, ""), annotationID(rootA))
	require.NoError(t, err)
	assert.Equal(t, float64(1), decodeBody(t, resp)["totalComments"], "old parent keeps its count")

	resp, err = b.Read(mkRequest(sess, nil, ""), annotationID(rootB))
	require.NoError(t, err)
	assert.Equal(t, float64(0), decodeBody(t, resp)["totalComments"], "named parent gains nothing")
}

func TestAppUpdateReplacesTags(t *testing.T) {
	db := setupTestDB(t)
	b := NewAppBackend(db, false, zap.NewNop())
	sess := testSession("u1", false)

	root := createAnnotation(t, b, sess, annotationPayload("u1", "text", "x", `"tags":["one","two"]`))
	id := annotationID(root)

	_, err := b.Update(mkRequest(sess, nil, annotationPayload("u1", "text", "x", `"tags":["two","three"]`)), id)
	require.NoError(t, err)

	var anno models.Annotation
	require.NoError(t, db.Preload("Tags").First(&anno, "id = ?", id).Error)
	names := make([]string, 0, len(anno.Tags))
	for _, tag := range anno.Tags {
		names = append(names, tag.Name)
	}
	assert.ElementsMatch(t, []string{"two", "three"}, names)

	// tag rows are shared, not duplicated
	var count int64
	require.NoError(t, db.Model(&models.AnnotationTag{}).Where("name = ?", "two").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
