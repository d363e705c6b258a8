package roomhandler

type JoinRoomBody struct {
	InviteCode string `json:"invite_code" binding:"required" example:"abc123"`
	Name       string `json:"name"        binding:"required" example:"Alice"`
	Email      string `json:"email"       binding:"required" example:"alice@example.com"`
} // @name JoinRoomRequest

type SubmitPredictionBody struct {
	RoomID     string  `json:"room_id"    binding:"required"      example:"room123"`
	Role       string  `json:"role"       binding:"required"      example:"developer"`
	Prediction float64 `json:"prediction" binding:"required,gt=0" example:"5"`
} // @name SubmitPredictionRequest

type GetPredictionsQuery struct {
	RoomID string `form:"room_id" binding:"required"`
} // @name GetPredictionsQuery

type NewCommentBody struct {
	RoomID  string `json:"room_id" binding:"required" example:"room123"`
	Comment string `json:"comment" binding:"required" example:"Went well overall"`
} // @name NewCommentRequest

type CreateActionBody struct {
	RoomID      string `json:"room_id"     binding:"required" example:"room123"`
	UserName    string `json:"user_name"   binding:"required" example:"Alice"`
	Description string `json:"description" binding:"required" example:"Update the board"`
} // @name CreateActionRequest

type FailureResponse struct {
	Success bool   `json:"success" example:"false"`
	Message string `json:"message"`
} // @name FailureResponse

type CreateRoomResponse struct {
	Success    bool   `json:"success"`
	RoomID     string `json:"room_id"`
	InviteCode string `json:"invite_code"`
} // @name CreateRoomResponse

type JoinRoomResponse struct {
	Success bool   `json:"success"`
	RoomID  string `json:"room_id"`
} // @name JoinRoomResponse
