package onboard

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/gofiber/fiber/v2"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	TextCode string            `json:"text_code"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func errorBody(err error) ErrorBody {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithTextCode(TextCodeDownstream)
	}

	body := ErrorBody{
		TextCode: richErr.TextCode,
		Message:  richErr.Message,
	}

	// downstream details stay in the logs
	if HTTPStatus(err) >= http.StatusInternalServerError {
		body.Message = "An unexpected server error occurred"
	}

	if fields, ok := richErr.Metadata["fields"].(map[string]string); ok {
		body.Fields = fields
	}

	return body
}

// FiberErrorHandler renders errors that escape handlers, fiber's own
// included, with the same JSON shape.
func FiberErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = defLogger{}
	}
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"error": ErrorBody{
					TextCode: http.StatusText(fiberErr.Code),
					Message:  fiberErr.Message,
				},
			})
		}

		status := HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("unhandled error on %s %s: %v", c.Method(), c.OriginalURL(), err)
		}
		return c.Status(status).JSON(fiber.Map{"error": errorBody(err)})
	}
}
