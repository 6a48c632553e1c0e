package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/testlink/internal/admin"
)

type (
	LoginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	User struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	}

	UserResponse struct {
		Success bool   `json:"success"`
		User    User   `json:"user"`
		Token   string `json:"token,omitempty"`
	}
)

// Login opens an admin session and hands the token out both as an HttpOnly cookie and in
// the body for non-browser clients.
func (a *API) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidBody(c, err)
		return
	}

	as, err := a.admin.Login(c.Request.Context(), admin.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookie, as.Token, int(a.admin.SessionTTL().Seconds()), "/", "", a.secureCookie, true)

	c.JSON(http.StatusOK, UserResponse{
		Success: true,
		User:    User{ID: as.AdminID, Email: as.Email},
		Token:   as.Token,
	})
}

func (a *API) Logout(c *gin.Context) {
	for _, t := range sessionTokens(c) {
		if err := a.admin.Logout(c.Request.Context(), t); err != nil {
			abort(c, err)
			return
		}
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", a.secureCookie, true)

	c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Logged out successfully"})
}

func (a *API) Me(c *gin.Context) {
	as := currentAdmin(c)

	c.JSON(http.StatusOK, UserResponse{
		Success: true,
		User:    User{ID: as.AdminID, Email: as.Email},
	})
}
