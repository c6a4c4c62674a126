// api/handlers/auth_handlers.go
package handlers

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"coursepulse/analytics/models"
	"coursepulse/analytics/utils"
)

// AuthHandlers authenticates the dashboard admin. There is no user database:
// the single credential comes from ADMIN_EMAIL and ADMIN_PASSWORD_HASH
// (bcrypt) in the environment.
type AuthHandlers struct{}

func NewAuthHandlers() *AuthHandlers {
	return &AuthHandlers{}
}

// Login checks the admin credential and issues the JWT cookie used by the
// stats endpoints.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminHash := os.Getenv("ADMIN_PASSWORD_HASH")
	if adminEmail == "" || adminHash == "" {
		log.Println("ERROR: ADMIN_EMAIL or ADMIN_PASSWORD_HASH not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login is not configured"})
		return
	}

	if req.Email != adminEmail {
		log.Printf("Login failed for email %s: unknown account", req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(adminHash), []byte(req.Password)); err != nil {
		log.Printf("Login failed for email %s: password mismatch", req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := utils.GenerateJWT(req.Email)
	if err != nil {
		log.Printf("ERROR: Failed to generate JWT for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetCookie(
		"jwt_token",
		tokenString,
		int(24*time.Hour/time.Second),
		"/",
		"",
		false,
		true,
	)

	log.Printf("Admin logged in: %s. JWT issued.", req.Email)
	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"user_email": req.Email,
	})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	// Clear the JWT cookie by setting its MaxAge to -1 (immediately expire).
	c.SetCookie(
		"jwt_token",
		"",
		-1,
		"/",
		"",
		false,
		true,
	)

	log.Println("Admin logged out (JWT cookie cleared).")
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
