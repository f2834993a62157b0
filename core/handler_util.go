package core

import "github.com/gin-gonic/gin"

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondErrorWithNotices adds the drained session notices to the error payload.
func respondErrorWithNotices(c *gin.Context, status int, code, message string, notices []Notice) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}, "notices": notices})
}
