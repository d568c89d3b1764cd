package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/meal"
)

type credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) fail(c *gin.Context, err error) {
	code, _ := classifyError(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("Request error", "path", c.FullPath(), "error", err)
	}
	writeError(c, err)
}

func (s *Server) handleSignUp(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := s.auth.SignUp(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tok)
}

func (s *Server) handleSignIn(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := s.auth.SignIn(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (s *Server) handleAnonymous(c *gin.Context) {
	tok, err := s.auth.SignInAnonymously(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (s *Server) handleCustomToken(c *gin.Context) {
	var body struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := s.auth.SignInWithToken(c.Request.Context(), body.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (s *Server) handleSignOut(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
		return
	}
	if err := s.auth.SignOut(c.Request.Context(), token); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListMeals(c *gin.Context) {
	date := s.today()
	if q := c.Query("date"); q != "" {
		d, err := domain.ParseDate(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date = d
	}

	records, err := s.meals.List(c.Request.Context(), identity(c).OwnerID, date)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "meals": records})
}

func (s *Server) handleAddMeal(c *gin.Context) {
	var in meal.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.meals.Add(c.Request.Context(), identity(c).OwnerID, in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleUpdateMeal(c *gin.Context) {
	var in meal.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.meals.Update(c.Request.Context(), identity(c).OwnerID, c.Param("id"), in); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteMeal(c *gin.Context) {
	if err := s.meals.Delete(c.Request.Context(), identity(c).OwnerID, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
