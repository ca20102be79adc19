// Package lti carries the launch-session context and the two LTI
// collaborator clients the annotation store depends on: annotator token
// issuance and the outcome (grade passback) service.
package lti

// Session is the LTI launch context attached to every annotation request.
// It is established at launch time by the tool consumer and verified by the
// session middleware; the store trusts its claims.
type Session struct {
	ContextID    string            `json:"hx_context_id"`
	UserID       string            `json:"hx_user_id"`
	IsStaff      bool              `json:"is_staff"`
	IsGraded     bool              `json:"is_graded"`
	LaunchParams map[string]string `json:"launch_params,omitempty"`
}
