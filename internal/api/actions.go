package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/citizenspring/website/internal/auth"
	"github.com/citizenspring/website/internal/models"
)

const expiredLinkMessage = "This link has expired. Please reply to the group again to get a fresh one."

// actionClaims validates the token query parameter and checks the
// expected action. A nil return means the response is already written.
func (r *Router) actionClaims(c *gin.Context, action string) *auth.ActionClaims {
	token := c.Query("token")
	if token == "" {
		c.String(http.StatusBadRequest, "Missing token.")
		return nil
	}
	claims, err := r.tokens.ValidateActionToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			c.String(http.StatusOK, expiredLinkMessage)
			return nil
		}
		c.String(http.StatusBadRequest, "Invalid token.")
		return nil
	}
	if claims.Action != action {
		c.String(http.StatusBadRequest, "Invalid token.")
		return nil
	}
	return claims
}

// handleApprove publishes the draft version the token points at. The
// payload is generalized over the target kind so one link format covers
// group edits and post edits alike.
func (r *Router) handleApprove(c *gin.Context) {
	claims := r.actionClaims(c, auth.ActionApprove)
	if claims == nil {
		return
	}

	var err error
	switch claims.Kind {
	case auth.KindGroup:
		_, err = r.groups.Publish(c.Request.Context(), claims.TargetID)
	case auth.KindPost:
		_, err = r.posts.Publish(c.Request.Context(), claims.TargetID)
	default:
		c.String(http.StatusBadRequest, "Invalid token.")
		return
	}
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.String(http.StatusNotFound, "This version no longer exists.")
			return
		}
		r.logger.Printf("api: approve %s %d failed: %v", claims.Kind, claims.TargetID, err)
		c.String(http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	c.String(http.StatusOK, "The new version has been approved and published.")
}

// handleFollow creates the membership carried by the token. Clicking
// the same link twice is answered, not failed.
func (r *Router) handleFollow(c *gin.Context) {
	claims := r.actionClaims(c, auth.ActionFollow)
	if claims == nil {
		return
	}

	member := &models.Member{
		UserID: claims.UserID,
		Role:   claims.Role,
	}
	if member.Role == "" {
		member.Role = models.RoleFollower
	}
	scope := "group"
	if claims.PostID != 0 {
		member.PostID = &claims.PostID
		scope = "thread"
	} else if claims.GroupID != 0 {
		member.GroupID = &claims.GroupID
	} else {
		c.String(http.StatusBadRequest, "Invalid token.")
		return
	}

	created, err := r.members.FindOrCreate(c.Request.Context(), member)
	if err != nil {
		r.logger.Printf("api: follow failed: %v", err)
		c.String(http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	if !created {
		c.String(http.StatusOK, "You are already subscribed to this "+scope+".")
		return
	}
	c.String(http.StatusOK, "You are now subscribed to this "+scope+".")
}

// handleUnfollow removes the membership the token points at, preferring
// the member row id and falling back to a user+target lookup.
func (r *Router) handleUnfollow(c *gin.Context) {
	claims := r.actionClaims(c, auth.ActionUnfollow)
	if claims == nil {
		return
	}

	scope := "group"
	if claims.PostID != 0 {
		scope = "thread"
	}

	member, err := r.lookupMember(c, claims)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.String(http.StatusOK, "You were already unsubscribed from this "+scope+".")
			return
		}
		r.logger.Printf("api: unfollow lookup failed: %v", err)
		c.String(http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	if err := r.members.Delete(c.Request.Context(), member.ID); err != nil {
		r.logger.Printf("api: unfollow delete failed: %v", err)
		c.String(http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	c.String(http.StatusOK, "You have been unsubscribed from this "+scope+".")
}

func (r *Router) lookupMember(c *gin.Context, claims *auth.ActionClaims) (*models.Member, error) {
	if claims.MemberID != 0 {
		return r.members.GetByID(c.Request.Context(), claims.MemberID)
	}
	probe := &models.Member{UserID: claims.UserID}
	switch {
	case claims.PostID != 0:
		probe.PostID = &claims.PostID
	case claims.GroupID != 0:
		probe.GroupID = &claims.GroupID
	default:
		return nil, models.ErrNotFound
	}
	return r.members.Find(c.Request.Context(), probe)
}

type signinRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name"`
}

// handleSignin emails a short verification code to the given address.
func (r *Router) handleSignin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	if err := r.users.Signin(c.Request.Context(), req.Email, req.Name); err != nil {
		r.logger.Printf("api: signin failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send the code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "code sent"})
}

type exchangeRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// handleShortCodeExchange swaps a valid short code for a session token.
func (r *Router) handleShortCodeExchange(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and code are required"})
		return
	}
	token, err := r.users.ExchangeShortCode(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
			return
		}
		r.logger.Printf("api: short code exchange failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not verify the code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
