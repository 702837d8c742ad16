package handlers

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/eren-k/HomeProBack/internal/services"
	"github.com/gofiber/fiber/v2"
)

const maxAttachmentBytes = 10 << 20

type AttachmentHandler struct {
	storage services.StorageService
}

func NewAttachmentHandler(storage services.StorageService) *AttachmentHandler {
	return &AttachmentHandler{storage: storage}
}

// Upload stores a file and returns the URL the messaging core will carry on
// the message; nothing else about the file is retained here.
func (h *AttachmentHandler) Upload(c *fiber.Ctx) error {
	actorID, _, err := actorContext(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	if h.storage == nil {
		return mapStorageError(c, services.ErrStorageUnavailable)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}
	if fileHeader.Size > maxAttachmentBytes {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file too large"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "failed to read file"})
	}
	defer file.Close()

	filename := fmt.Sprintf("%d-%d%s", actorID, time.Now().UnixNano(), filepath.Ext(fileHeader.Filename))
	url, contentType, err := h.storage.UploadFile(c.Context(), file, filename, "attachments")
	if err != nil {
		return mapStorageError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"url":      url,
		"type":     contentType,
		"filename": fileHeader.Filename,
		"size":     fileHeader.Size,
	})
}

func mapStorageError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrStorageUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(fiber.Map{"error": "Attachment storage is not configured"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to upload attachment"})
}
