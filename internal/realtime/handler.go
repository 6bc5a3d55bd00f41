package realtime

import (
	"github.com/gin-gonic/gin"

	"github.com/classpoll/backend/pkg/response"
)

// ActiveStudents handles GET /api/active-students. It lists students connected to this instance.
func ActiveStudents(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		students := hub.Participants(RoleStudent)
		response.OK(c, gin.H{"students": students, "count": len(students)})
	}
}
