package handler

import (
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-event-board/internal/application"
	"github.com/sanosuguru/go-event-board/internal/domain/event"
	"github.com/sanosuguru/go-event-board/internal/domain/photo"
)

const (
	multipartDataField  = "data"
	multipartPhotoField = "photos"
)

type EventHandler struct {
	eventService EventServiceInterface
}

func NewEventHandler(eventService EventServiceInterface) *EventHandler {
	return &EventHandler{eventService: eventService}
}

type PollOptionRequest struct {
	Label string `json:"label" validate:"required" example:"Pizza"`
}

type PollRequest struct {
	Question string              `json:"question" example:"ランチは何にしますか？"`
	Options  []PollOptionRequest `json:"options" validate:"required,min=1,dive"`
}

type CreateEventRequest struct {
	Title        string       `json:"title" validate:"required" example:"週次定例"`
	Description  string       `json:"description" example:"チームの週次ミーティング"`
	Type         string       `json:"type" example:"meeting"`
	StartDate    string       `json:"start_date" validate:"required" example:"2025-12-01T10:00:00+09:00"`
	EndDate      *string      `json:"end_date,omitempty" example:"2025-12-01T11:00:00+09:00"`
	Participants []string     `json:"participants"`
	Poll         *PollRequest `json:"poll,omitempty"`
}

// UpdateEventRequest は部分更新のリクエスト（未指定の項目は変更しない）
type UpdateEventRequest struct {
	Title        *string      `json:"title,omitempty"`
	Description  *string      `json:"description,omitempty"`
	Type         *string      `json:"type,omitempty"`
	StartDate    *string      `json:"start_date,omitempty"`
	EndDate      *string      `json:"end_date,omitempty"`
	Participants []string     `json:"participants,omitempty"`
	Poll         *PollRequest `json:"poll,omitempty"`
}

type RecordVoteRequest struct {
	Option  string `json:"option" validate:"required" example:"Pizza"`
	VoterID string `json:"voter_id" example:"user-1"`
}

type PollOptionResponse struct {
	Label  string   `json:"label"`
	Votes  int      `json:"votes"`
	Voters []string `json:"voters"`
}

type PollResponse struct {
	Question string               `json:"question"`
	Options  []PollOptionResponse `json:"options"`
}

type EventResponse struct {
	ID           string        `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Title        string        `json:"title" example:"週次定例"`
	Description  string        `json:"description" example:"チームの週次ミーティング"`
	Type         string        `json:"type" example:"meeting"`
	StartDate    string        `json:"start_date" example:"2025-12-01T10:00:00+09:00"`
	EndDate      string        `json:"end_date" example:"2025-12-01T11:00:00+09:00"`
	Participants []string      `json:"participants"`
	Photos       []string      `json:"photos"`
	Poll         *PollResponse `json:"poll,omitempty"`
	Version      int           `json:"version"`
	CreatedAt    string        `json:"created_at" example:"2025-11-01T10:00:00+09:00"`
	UpdatedAt    string        `json:"updated_at" example:"2025-11-01T10:00:00+09:00"`
}

func toEventResponse(e *event.Event) *EventResponse {
	resp := &EventResponse{
		ID:           e.ID,
		Title:        e.Title,
		Description:  e.Description,
		Type:         e.Type,
		StartDate:    e.StartDate.Format(time.RFC3339),
		EndDate:      e.EndDate.Format(time.RFC3339),
		Participants: nonNil(e.Participants),
		Photos:       nonNil(e.Photo),
		Version:      e.Version,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    e.UpdatedAt.Format(time.RFC3339),
	}
	if e.Poll != nil {
		resp.Poll = &PollResponse{Question: e.Poll.Question, Options: make([]PollOptionResponse, len(e.Poll.Options))}
		for i, o := range e.Poll.Options {
			resp.Poll.Options[i] = PollOptionResponse{Label: o.Label, Votes: o.Votes, Voters: nonNil(o.Voters)}
		}
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// toPoll は投票リクエストをドメインの投票に変換する
// 票数と投票者はサービス側で 0 票に初期化される
func (r *PollRequest) toPoll() *event.Poll {
	if r == nil {
		return nil
	}
	labels := make([]string, len(r.Options))
	for i, o := range r.Options {
		labels[i] = o.Label
	}
	return event.NewPoll(r.Question, labels)
}

// Create godoc
// @Summary イベントを作成
// @Description 新しいイベントを作成します。写真を添付する場合は multipart/form-data の data にJSON、photos にファイルを指定します
// @Tags events
// @Accept json,mpfd
// @Produce json
// @Param request body CreateEventRequest true "イベント情報"
// @Success 201 {object} EventResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Router /events [post]
func (h *EventHandler) Create(c echo.Context) error {
	var req CreateEventRequest
	files, closeFiles, err := bindEventRequest(c, &req)
	if err != nil {
		return err
	}
	defer closeFiles()

	startDate, err := parseTime(req.StartDate, "開始日時")
	if err != nil {
		return err
	}
	endDate, err := parseOptionalTime(req.EndDate, "終了日時")
	if err != nil {
		return err
	}

	input := application.CreateEventInput{
		Title:        req.Title,
		Description:  req.Description,
		Type:         req.Type,
		StartDate:    startDate,
		EndDate:      endDate,
		Participants: req.Participants,
		Poll:         req.Poll.toPoll(),
		Photos:       files,
	}

	e, err := h.eventService.CreateEvent(c.Request().Context(), input)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, toEventResponse(e))
}

// GetByID godoc
// @Summary イベントを取得
// @Description 指定IDのイベントを取得します
// @Tags events
// @Produce json
// @Param id path string true "イベントID"
// @Success 200 {object} EventResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /events/{id} [get]
func (h *EventHandler) GetByID(c echo.Context) error {
	e, err := h.eventService.GetEvent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toEventResponse(e))
}

// List godoc
// @Summary イベント一覧を取得
// @Description 削除されていないイベントを作成日時順に取得します
// @Tags events
// @Produce json
// @Param search query string false "タイトルの部分一致"
// @Param limit query int false "取得件数" default(20)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {array} EventResponse
// @Router /events [get]
func (h *EventHandler) List(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	events, err := h.eventService.ListEvents(c.Request().Context(), application.ListEventsInput{
		Search: c.QueryParam("search"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]*EventResponse, len(events))
	for i, e := range events {
		responses[i] = toEventResponse(e)
	}
	return c.JSON(http.StatusOK, responses)
}

// Update godoc
// @Summary イベントを更新
// @Description 指定IDのイベントを部分更新します。写真を添付した場合は既存の写真を置き換えます
// @Tags events
// @Accept json,mpfd
// @Produce json
// @Param id path string true "イベントID"
// @Param request body UpdateEventRequest true "更新内容"
// @Success 200 {object} EventResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Router /events/{id} [put]
func (h *EventHandler) Update(c echo.Context) error {
	var req UpdateEventRequest
	files, closeFiles, err := bindEventRequest(c, &req)
	if err != nil {
		return err
	}
	defer closeFiles()

	startDate, err := parseOptionalTime(req.StartDate, "開始日時")
	if err != nil {
		return err
	}
	endDate, err := parseOptionalTime(req.EndDate, "終了日時")
	if err != nil {
		return err
	}

	input := application.UpdateEventInput{
		ID:           c.Param("id"),
		Title:        req.Title,
		Description:  req.Description,
		Type:         req.Type,
		StartDate:    startDate,
		EndDate:      endDate,
		Participants: req.Participants,
		Poll:         req.Poll.toPoll(),
		Photos:       files,
	}

	e, err := h.eventService.UpdateEvent(c.Request().Context(), input)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toEventResponse(e))
}

// Delete godoc
// @Summary イベントを削除
// @Description 指定IDのイベントを論理削除します
// @Tags events
// @Param id path string true "イベントID"
// @Success 204
// @Failure 404 {object} api.ErrorResponse
// @Router /events/{id} [delete]
func (h *EventHandler) Delete(c echo.Context) error {
	if err := h.eventService.RemoveEvent(c.Request().Context(), c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Vote godoc
// @Summary 投票する
// @Description イベントの投票に1票を記録します。同じ投票者は1回だけ投票できます
// @Tags events
// @Accept json
// @Produce json
// @Param id path string true "イベントID"
// @Param request body RecordVoteRequest true "投票内容"
// @Success 200 {object} EventResponse
// @Failure 400 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Failure 409 {object} api.ErrorResponse
// @Router /events/{id}/votes [post]
func (h *EventHandler) Vote(c echo.Context) error {
	var req RecordVoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "リクエストの形式が不正です").SetInternal(err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	e, err := h.eventService.RecordVote(c.Request().Context(), application.RecordVoteInput{
		EventID: c.Param("id"),
		Option:  req.Option,
		VoterID: req.VoterID,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toEventResponse(e))
}

// bindEventRequest は JSON または multipart/form-data のリクエストを読み込む
// multipart の場合は data フィールドのJSONと photos のファイルを返す
func bindEventRequest(c echo.Context, req any) ([]photo.File, func(), error) {
	noop := func() {}
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		if err := c.Bind(req); err != nil {
			return nil, noop, echo.NewHTTPError(http.StatusBadRequest, "リクエストの形式が不正です").SetInternal(err)
		}
		if err := c.Validate(req); err != nil {
			return nil, noop, err
		}
		return nil, noop, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, noop, echo.NewHTTPError(http.StatusBadRequest, "マルチパートの形式が不正です").SetInternal(err)
	}
	data := form.Value[multipartDataField]
	if len(data) == 0 {
		return nil, noop, echo.NewHTTPError(http.StatusBadRequest, "data フィールドは必須です")
	}
	if err := json.Unmarshal([]byte(data[0]), req); err != nil {
		return nil, noop, echo.NewHTTPError(http.StatusBadRequest, "data フィールドのJSONが不正です").SetInternal(err)
	}
	if err := c.Validate(req); err != nil {
		return nil, noop, err
	}

	files, closeFiles, err := openFiles(form.File[multipartPhotoField])
	if err != nil {
		return nil, noop, echo.NewHTTPError(http.StatusBadRequest, "写真を読み込めません").SetInternal(err)
	}
	return files, closeFiles, nil
}

func openFiles(headers []*multipart.FileHeader) ([]photo.File, func(), error) {
	files := make([]photo.File, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		opened = append(opened, f)
		files = append(files, photo.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Size:        fh.Size,
			Content:     f,
		})
	}
	if len(files) == 0 {
		files = nil
	}
	return files, closeAll, nil
}

func parseTime(value, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, field+"の形式が不正です").SetInternal(err)
	}
	return t, nil
}

func parseOptionalTime(value *string, field string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := parseTime(*value, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
