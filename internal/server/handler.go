package server

import (
	"net/http"

	"directchat/internal/auth"
	"directchat/internal/metrics"
	"directchat/internal/service"

	"github.com/gin-gonic/gin"
)

// Handler 聚合所有 REST handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	msgSvc  *service.MessageService
}

func NewHandler(userSvc *service.UserService, msgSvc *service.MessageService) *Handler {
	return &Handler{userSvc: userSvc, msgSvc: msgSvc}
}

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	res, err := h.userSvc.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		failErr(c, err, "register")
		return
	}
	ok(c, http.StatusCreated, "User registered successfully", res)
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	res, err := h.userSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failErr(c, err, "login")
		return
	}
	ok(c, http.StatusOK, "Login successful", res)
}

func (h *Handler) Me(c *gin.Context) {
	ok(c, http.StatusOK, "Profile fetched successfully", auth.GetUser(c))
}

func (h *Handler) UpdateProfile(c *gin.Context) {
	var req struct {
		Name       string `json:"name"`
		ProfilePic string `json:"profilePic"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	u, err := h.userSvc.UpdateProfile(c.Request.Context(), auth.GetUserID(c), req.Name, req.ProfilePic)
	if err != nil {
		failErr(c, err, "update profile")
		return
	}
	ok(c, http.StatusOK, "Profile updated successfully", u)
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.userSvc.ListOthers(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		failErr(c, err, "list users")
		return
	}
	ok(c, http.StatusOK, "Users fetched successfully", users)
}

func (h *Handler) OnlineUsers(c *gin.Context) {
	users, err := h.userSvc.Online(c.Request.Context())
	if err != nil {
		failErr(c, err, "online users")
		return
	}
	ok(c, http.StatusOK, "Online users fetched successfully", users)
}

// SendMessage 持久化并推送一条私信，响应里回显 clientMessageId 供发送方对账。
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		ReceiverID      string `json:"receiverId"`
		Content         string `json:"content"`
		ClientMessageID string `json:"clientMessageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}
	msg, err := h.msgSvc.Send(c.Request.Context(), auth.GetUserID(c), req.ReceiverID, req.Content, req.ClientMessageID)
	if err != nil {
		failErr(c, err, "send message")
		return
	}
	metrics.MessagesTotal.WithLabelValues("http").Inc()
	ok(c, http.StatusCreated, "Message sent successfully", msg)
}

func (h *Handler) History(c *gin.Context) {
	msgs, err := h.msgSvc.History(c.Request.Context(), auth.GetUserID(c), c.Param("userId"))
	if err != nil {
		failErr(c, err, "chat history")
		return
	}
	ok(c, http.StatusOK, "Chat history fetched successfully", msgs)
}
