package api

import (
	"github.com/labstack/echo/v4"
)

func ok(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, data)
}

// fail writes {"error": msg, "code": code} plus an optional detail.
func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	body := echo.Map{"error": msg, "code": code}
	if detail != nil {
		body["detail"] = detail
	}
	return c.JSON(status, body)
}
