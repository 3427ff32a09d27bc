package audit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/arencloud/s3keeper/internal/models"
)

// Action is the closed set of audited operations.
type Action string

const (
	// authentication, recorded by the upstream auth layer only
	ActionLogin       Action = "LOGIN"
	ActionLogout      Action = "LOGOUT"
	ActionLoginFailed Action = "LOGIN_FAILED"

	ActionCreateBucket Action = "CREATE_BUCKET"
	ActionDeleteBucket Action = "DELETE_BUCKET"
	ActionListBuckets  Action = "LIST_BUCKETS"

	ActionUploadObject   Action = "UPLOAD_OBJECT"
	ActionDownloadObject Action = "DOWNLOAD_OBJECT"
	ActionDeleteObject   Action = "DELETE_OBJECT"
	ActionCopyObject     Action = "COPY_OBJECT"
	ActionMoveObject     Action = "MOVE_OBJECT"
	ActionRenameObject   Action = "RENAME_OBJECT"
	ActionListObjects    Action = "LIST_OBJECTS"

	ActionCreateCredential     Action = "CREATE_CREDENTIAL"
	ActionUpdateCredential     Action = "UPDATE_CREDENTIAL"
	ActionDeleteCredential     Action = "DELETE_CREDENTIAL"
	ActionValidateCredential   Action = "VALIDATE_CREDENTIAL"
	ActionSetDefaultCredential Action = "SET_DEFAULT_CREDENTIAL"

	ActionGeneratePresignedURL Action = "GENERATE_PRESIGNED_URL"
	ActionPreviewObject        Action = "PREVIEW_OBJECT"

	ActionViewAnalytics   Action = "VIEW_ANALYTICS"
	ActionExportAnalytics Action = "EXPORT_ANALYTICS"
)

var allActions = []Action{
	ActionLogin, ActionLogout, ActionLoginFailed,
	ActionCreateBucket, ActionDeleteBucket, ActionListBuckets,
	ActionUploadObject, ActionDownloadObject, ActionDeleteObject, ActionCopyObject,
	ActionMoveObject, ActionRenameObject, ActionListObjects,
	ActionCreateCredential, ActionUpdateCredential, ActionDeleteCredential,
	ActionValidateCredential, ActionSetDefaultCredential,
	ActionGeneratePresignedURL, ActionPreviewObject,
	ActionViewAnalytics, ActionExportAnalytics,
}

func Actions() []Action { return append([]Action(nil), allActions...) }

func (a Action) Valid() bool {
	for _, v := range allActions {
		if v == a {
			return true
		}
	}
	return false
}

// Actor identifies who triggered an operation and from where.
type Actor struct {
	UserID    string
	ClientIP  string
	UserAgent string
}

// ActorFromRequest prefers the first X-Forwarded-For hop over the peer address.
func ActorFromRequest(r *http.Request, user string) Actor {
	a := Actor{UserID: user, UserAgent: r.UserAgent()}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		a.ClientIP = strings.TrimSpace(first)
	}
	if a.ClientIP == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		a.ClientIP = host
	}
	return a
}

// Event describes one finished (or attempted) operation. A nil Err means success.
type Event struct {
	Action   Action
	Bucket   string
	Key      string
	Err      error
	Metadata map[string]any
}

// Query selects a page of a user's history. Action wins over the date range;
// the range only applies when both bounds are set.
type Query struct {
	Action    Action
	StartDate *time.Time
	EndDate   *time.Time
	Page      int // 0-based
	Size      int
}

type Page struct {
	Items         []models.AuditEntry `json:"content"`
	Page          int                 `json:"page"`
	Size          int                 `json:"size"`
	TotalElements int64               `json:"totalElements"`
	TotalPages    int                 `json:"totalPages"`
}

type Counts struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// Recorder accepts audit events. *Trail implements it.
type Recorder interface {
	Record(actor Actor, ev Event)
}

var _ Recorder = (*Trail)(nil)
