package errors

var (
	// 分类哨兵，仅用于 errors.Is 比较
	ErrValidation   = &AppError{Code: CodeInvalidArgument, Message: "validation failed"}
	ErrConflict     = &AppError{Code: CodeConflict, Message: "conflict"}
	ErrNotReady     = &AppError{Code: CodeNotReady, Message: "store not ready"}
	ErrTransport    = &AppError{Code: CodeUnavailable, Message: "transport failure"}
	ErrTimeout      = &AppError{Code: CodeDeadlineExceeded, Message: "timed out"}
	ErrUnauthorized = &AppError{Code: CodeUnauthenticated, Message: "unauthenticated"}
	ErrNotFound     = &AppError{Code: CodeNotFound, Message: "not found"}
)

var classes = map[*AppError]struct{}{
	ErrValidation:   {},
	ErrConflict:     {},
	ErrNotReady:     {},
	ErrTransport:    {},
	ErrTimeout:      {},
	ErrUnauthorized: {},
	ErrNotFound:     {},
}

var (
	// Domain errors
	ErrFollowSelf      = InvalidArg("cannot follow self")
	ErrAlreadyLiked    = Conflict("post already liked")
	ErrLikeNotFound    = Conflict("like not found")
	ErrAlreadyReposted = Conflict("post already reposted")
	ErrRepostNotFound  = Conflict("repost not found")
	ErrAlreadyMarked   = Conflict("post already bookmarked")
	ErrBookmarkMissing = Conflict("bookmark not found")
	ErrAlreadyFollowed = Conflict("already following user")
	ErrFollowNotFound  = Conflict("follow not found")
	ErrPostExists      = Conflict("post id already exists")
	ErrPostNotFound    = NotFound("post not found")
	ErrUserNotFound    = NotFound("user not found")
	ErrUnknownEvent    = InvalidArg("unknown event type")
)
