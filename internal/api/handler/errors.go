package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-event-board/internal/application"
	"github.com/sanosuguru/go-event-board/internal/domain/event"
)

var (
	badRequestErrors = []error{
		event.ErrEventTitleRequired,
		event.ErrInvalidDateRange,
		event.ErrInvalidPoll,
		event.ErrUnknownOption,
		event.ErrPollAlreadyAttached,
		event.ErrVoterRequired,
	}
	notFoundErrors = []error{
		event.ErrEventNotFound,
		event.ErrPollNotFound,
	}
	// 具体的な原因を先に並べ、最初に一致したもののメッセージを返す
	conflictErrors = []error{
		event.ErrAlreadyVoted,
		application.ErrEventBusy,
		application.ErrUploadFailed,
		application.ErrNotificationFailed,
		application.ErrMailFailed,
		application.ErrDirectoryUnavailable,
		application.ErrPersistenceConflict,
	}
)

// toHTTPError はサービスのエラーをHTTPステータスに変換する
// 対応しないエラーは 500 とし、元のエラーは Internal に保持する
func toHTTPError(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case isAny(err, notFoundErrors):
		return echo.NewHTTPError(http.StatusNotFound, rootMessage(err, notFoundErrors)).SetInternal(err)
	case isAny(err, badRequestErrors):
		return echo.NewHTTPError(http.StatusBadRequest, rootMessage(err, badRequestErrors)).SetInternal(err)
	case isAny(err, conflictErrors):
		return echo.NewHTTPError(http.StatusConflict, rootMessage(err, conflictErrors)).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "内部サーバーエラー").SetInternal(err)
	}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// rootMessage は一致したドメインエラーのメッセージを返す
func rootMessage(err error, targets []error) string {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}
