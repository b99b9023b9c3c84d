// Package api is the HTTP admin API of prefsd, served with gin over a prefs.Prefs.
package api

import (
	"errors"
	"net/http"
	"slices"

	"github.com/celerix-dev/celerix-prefs/pkg/prefs"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	Prefs *prefs.Prefs
}

// Register mounts every route on g.
func (h *Handler) Register(g gin.IRouter) {
	g.GET("/files", h.GetFiles)
	g.GET("/files/:file", h.GetFile)
	g.GET("/files/:file/raw", h.GetFileRaw)
	g.DELETE("/files/:file", h.ClearFile)
	g.GET("/files/:file/keys/:key", h.GetKey)
	g.POST("/files/:file/keys/:key", h.SetKey)
	g.DELETE("/files/:file/keys/:key", h.DeleteKey)
	g.POST("/rotate", h.Rotate)
}

// knownFile answers 404 for files the facade has never registered, so bulk
// operations never silently fall back to the default file.
func (h *Handler) knownFile(c *gin.Context) (string, bool) {
	file := c.Param("file")
	if !slices.Contains(h.Prefs.FileNames(), file) {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return "", false
	}
	return file, true
}

func (h *Handler) GetFiles(c *gin.Context) {
	c.JSON(http.StatusOK, h.Prefs.FileNames())
}

func (h *Handler) GetFile(c *gin.Context) {
	file, ok := h.knownFile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Prefs.GetAll(file))
}

func (h *Handler) GetFileRaw(c *gin.Context) {
	file, ok := h.knownFile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Prefs.GetAllObfuscated(file))
}

func (h *Handler) ClearFile(c *gin.Context) {
	file, ok := h.knownFile(c)
	if !ok {
		return
	}
	h.Prefs.Clear(file)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) GetKey(c *gin.Context) {
	file := c.Param("file")
	key := c.Param("key")

	value, found := h.Prefs.Lookup(key, file)
	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": value,
		"found": found,
	})
}

func (h *Handler) SetKey(c *gin.Context) {
	var input struct {
		Value *string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.Prefs.Put(c.Param("key"), *input.Value, c.Param("file"))
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) DeleteKey(c *gin.Context) {
	h.Prefs.Remove(c.Param("key"), "", c.Param("file"))
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) Rotate(c *gin.Context) {
	var input struct {
		Password string `json:"password"`
		Salt     string `json:"salt"`
		Plain    bool   `json:"plain"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch {
	case input.Plain:
		err = h.Prefs.ChangeObfuscator(nil)
	case input.Password == "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "password or plain is required"})
		return
	default:
		var salt []byte
		if input.Salt != "" {
			salt = []byte(input.Salt)
		}
		err = h.Prefs.ChangePassword(input.Password, salt)
	}

	var rotErr *prefs.RotationError
	switch {
	case errors.As(err, &rotErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "file": rotErr.File, "key": rotErr.Key})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	}
}
