package models

import "time"

type Review struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	ProductID int       `json:"product_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateReviewRequest struct {
	UserID  int    `json:"user_id" binding:"required"`
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment"`
}

type Question struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	ProductID int       `json:"product_id"`
	Body      string    `json:"body"`
	Answers   []Answer  `json:"answers,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Answer struct {
	ID         int       `json:"id"`
	QuestionID int       `json:"question_id"`
	UserID     int       `json:"user_id"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type CreateQuestionRequest struct {
	UserID int    `json:"user_id" binding:"required"`
	Body   string `json:"body" binding:"required"`
}

type CreateAnswerRequest struct {
	UserID int    `json:"user_id" binding:"required"`
	Body   string `json:"body" binding:"required"`
}
