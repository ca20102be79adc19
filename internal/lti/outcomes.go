package lti

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of a replace-result call against the tool consumer's
// outcome service.
type Outcome struct {
	Success     bool
	Description string
}

// OutcomeClient posts LTI 1.x basic-outcomes requests on behalf of a course,
// authenticated with the tool's consumer key and secret via OAuth 1.0 body
// signing.
type OutcomeClient struct {
	consumerKey string
	secret      string
	client      *http.Client
}

// NewOutcomeClient returns a client bound to a consumer key/secret pair.
func NewOutcomeClient(consumerKey, secret string) *OutcomeClient {
	return &OutcomeClient{
		consumerKey: consumerKey,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

const replaceResultTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<imsx_POXEnvelopeRequest xmlns="http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0">
  <imsx_POXHeader>
    <imsx_POXRequestHeaderInfo>
      <imsx_version>V1.0</imsx_version>
      <imsx_messageIdentifier>%s</imsx_messageIdentifier>
    </imsx_POXRequestHeaderInfo>
  </imsx_POXHeader>
  <imsx_POXBody>
    <replaceResultRequest>
      <resultRecord>
        <sourcedGUID>
          <sourcedId>%s</sourcedId>
        </sourcedGUID>
        <result>
          <resultScore>
            <language>en</language>
            <textString>%s</textString>
          </resultScore>
        </result>
      </resultRecord>
    </replaceResultRequest>
  </imsx_POXBody>
</imsx_POXEnvelopeRequest>`

type poxResponse struct {
	CodeMajor   string `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_statusInfo>imsx_codeMajor"`
	Description string `xml:"imsx_POXHeader>imsx_POXResponseHeaderInfo>imsx_statusInfo>imsx_description"`
}

// PostReplaceResult submits a score for the launch identified by
// lis_result_sourcedid to the consumer's lis_outcome_service_url.
func (c *OutcomeClient) PostReplaceResult(launchParams map[string]string, score float64) (*Outcome, error) {
	serviceURL := launchParams["lis_outcome_service_url"]
	sourcedID := launchParams["lis_result_sourcedid"]
	if serviceURL == "" {
		return nil, fmt.Errorf("launch has no lis_outcome_service_url")
	}
	if sourcedID == "" {
		return nil, fmt.Errorf("launch has no lis_result_sourcedid")
	}

	body := fmt.Sprintf(replaceResultTemplate,
		uuid.New().String(),
		xmlEscape(sourcedID),
		strconv.FormatFloat(score, 'f', -1, 64),
	)

	req, err := http.NewRequest(http.MethodPost, serviceURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Authorization", c.authorizationHeader(serviceURL, []byte(body)))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("outcome service returned status %d", resp.StatusCode)
	}

	var pox poxResponse
	if err := xml.Unmarshal(respBody, &pox); err != nil {
		return nil, fmt.Errorf("malformed outcome response: %w", err)
	}

	return &Outcome{
		Success:     pox.CodeMajor == "success",
		Description: pox.Description,
	}, nil
}

// authorizationHeader builds the OAuth 1.0 header for a signed POX body.
// The body itself participates through oauth_body_hash rather than as
// form parameters.
func (c *OutcomeClient) authorizationHeader(serviceURL string, body []byte) string {
	bodyHash := sha1.Sum(body)

	oauthParams := map[string]string{
		"oauth_version":          "1.0",
		"oauth_nonce":            uuid.New().String(),
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_consumer_key":     c.consumerKey,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_body_hash":        base64.StdEncoding.EncodeToString(bodyHash[:]),
	}

	oauthParams["oauth_signature"] = c.sign(serviceURL, oauthParams)

	keys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, oauthEscape(oauthParams[k])))
	}
	return "OAuth realm=\"\", " + strings.Join(pairs, ", ")
}

// sign computes the HMAC-SHA1 signature over the normalized base string.
func (c *OutcomeClient) sign(serviceURL string, oauthParams map[string]string) string {
	parsed, err := url.Parse(serviceURL)
	if err != nil {
		return ""
	}

	params := make(map[string]string, len(oauthParams))
	for k, v := range oauthParams {
		params[k] = v
	}
	for k, vs := range parsed.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, oauthEscape(k)+"="+oauthEscape(params[k]))
	}

	baseURL := parsed.Scheme + "://" + parsed.Host + parsed.Path
	baseString := "POST&" + oauthEscape(baseURL) + "&" + oauthEscape(strings.Join(pairs, "&"))

	mac := hmac.New(sha1.New, []byte(oauthEscape(c.secret)+"&"))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// oauthEscape percent-encodes per RFC 5849 §3.6 (stricter than url.QueryEscape).
func oauthEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9',
			ch == '-', ch == '.', ch == '_', ch == '~':
			b.WriteByte(ch)
		default:
			b.WriteString(fmt.Sprintf("%%%02X", ch))
		}
	}
	return b.String()
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
