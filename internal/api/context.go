package api

import "github.com/gin-gonic/gin"

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	userID, ok := value.(uint)
	return userID, ok
}

func isStaff(c *gin.Context) bool {
	value, ok := c.Get("staff")
	if !ok {
		return false
	}
	staff, ok := value.(bool)
	return ok && staff
}
