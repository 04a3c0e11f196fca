package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/academia/core/qa"
)

type qaApi struct {
	svc      qa.Service
	validate *validator.Validate
}

func registerQAAPI(g *echo.Group, jwt, limit echo.MiddlewareFunc, svc qa.Service, validate *validator.Validate) {
	api := qaApi{svc: svc, validate: validate}

	qg := g.Group("/qa", jwt)

	// questions
	qg.GET("/questions", api.queryQuestions)
	qg.POST("/questions", api.createQuestion, limit)
	qg.GET("/questions/:id", api.retrieveQuestion)
	qg.PUT("/questions/:id", api.updateQuestion, limit)
	qg.DELETE("/questions/:id", api.destroyQuestion)
	qg.POST("/questions/:id/vote", api.vote(qa.TargetQuestion), limit)
	qg.POST("/questions/:id/moderate", api.moderateQuestion)
	qg.GET("/questions/:id/answers", api.queryAnswers)
	qg.POST("/questions/:id/answers", api.createAnswer, limit)
	qg.GET("/questions/:id/comments", api.queryComments(qa.TargetQuestion))
	qg.POST("/questions/:id/comments", api.createComment(qa.TargetQuestion), limit)

	// answers
	qg.PUT("/answers/:id", api.updateAnswer, limit)
	qg.DELETE("/answers/:id", api.destroyAnswer)
	qg.POST("/answers/:id/vote", api.vote(qa.TargetAnswer), limit)
	qg.POST("/answers/:id/accept", api.acceptAnswer)
	qg.DELETE("/answers/:id/accept", api.unacceptAnswer)
	qg.POST("/answers/:id/moderate", api.moderateAnswer)
	qg.GET("/answers/:id/comments", api.queryComments(qa.TargetAnswer))
	qg.POST("/answers/:id/comments", api.createComment(qa.TargetAnswer), limit)

	// comments
	qg.PUT("/comments/:id", api.updateComment, limit)
	qg.DELETE("/comments/:id", api.destroyComment)
}

// Handlers

func (api *qaApi) queryQuestions(ctx echo.Context) error {
	filter := qa.QueryFilter{
		CourseID: ctx.QueryParam("course_id"),
		Status:   qa.Status(ctx.QueryParam("status")),
		Tag:      ctx.QueryParam("tag"),
		AuthorID: ctx.QueryParam("author_id"),
		Search:   ctx.QueryParam("search"),
		Sort:     qa.Sort(ctx.QueryParam("sort")),
	}
	if err := filter.Validate(api.validate); err != nil {
		return err
	}
	res, err := api.svc.ListQuestions(ctx.Request().Context(), filter, bindPage(ctx))
	if err != nil {
		return err
	}
	return ok(ctx, res)
}

func (api *qaApi) createQuestion(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data qa.NewQuestion
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	q, err := api.svc.CreateQuestion(ctx.Request().Context(), actor, data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusCreated, "Question created", q)
}

func (api *qaApi) retrieveQuestion(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	detail, err := api.svc.GetQuestion(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ok(ctx, detail)
}

func (api *qaApi) updateQuestion(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data qa.UpdateQuestion
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	q, err := api.svc.UpdateQuestion(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "Question updated", q)
}

func (api *qaApi) destroyQuestion(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteQuestion(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *qaApi) moderateQuestion(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data qa.ModerateRequest
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	q, err := api.svc.ModerateQuestion(ctx.Request().Context(), actor, ctx.Param("id"), data.Action)
	if err != nil {
		return err
	}
	return ok(ctx, q)
}

func (api *qaApi) queryAnswers(ctx echo.Context) error {
	answers, err := api.svc.ListAnswers(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ok(ctx, answers)
}

func (api *qaApi) createAnswer(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data qa.NewAnswer
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	ans, err := api.svc.CreateAnswer(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusCreated, "Answer created", ans)
}

func (api *qaApi) updateAnswer(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data qa.NewAnswer
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	ans, err := api.svc.UpdateAnswer(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "Answer updated", ans)
}

func (api *qaApi) destroyAnswer(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteAnswer(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *qaApi) acceptAnswer(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	ans, err := api.svc.AcceptAnswer(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "Answer accepted", ans)
}

func (api *qaApi) unacceptAnswer(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	ans, err := api.svc.UnacceptAnswer(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "Answer no longer accepted", ans)
}

func (api *qaApi) moderateAnswer(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data qa.ModerateRequest
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	ans, err := api.svc.ModerateAnswer(ctx.Request().Context(), actor, ctx.Param("id"), data.Action)
	if err != nil {
		return err
	}
	return ok(ctx, ans)
}

func (api *qaApi) vote(target qa.TargetType) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := getContextActor(ctx)
		if err != nil {
			return err
		}
		var data qa.VoteRequest
		if err = bindBody(ctx, &data); err != nil {
			return err
		}
		if err = data.Validate(api.validate); err != nil {
			return err
		}
		res, err := api.svc.Vote(ctx.Request().Context(), actor, target, ctx.Param("id"), data.Direction)
		if err != nil {
			return err
		}
		return ok(ctx, res)
	}
}

func (api *qaApi) queryComments(target qa.TargetType) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		comments, err := api.svc.ListComments(ctx.Request().Context(), target, ctx.Param("id"))
		if err != nil {
			return err
		}
		return ok(ctx, comments)
	}
}

func (api *qaApi) createComment(target qa.TargetType) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor, err := getContextActor(ctx)
		if err != nil {
			return err
		}
		var data qa.NewComment
		if err = bindBody(ctx, &data); err != nil {
			return err
		}
		if err = data.Validate(api.validate); err != nil {
			return err
		}
		cmt, err := api.svc.CreateComment(ctx.Request().Context(), actor, target, ctx.Param("id"), data)
		if err != nil {
			return err
		}
		return respond(ctx, http.StatusCreated, "Comment created", cmt)
	}
}

func (api *qaApi) updateComment(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var data qa.NewComment
	if err = bindBody(ctx, &data); err != nil {
		return err
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	cmt, err := api.svc.UpdateComment(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return respond(ctx, http.StatusOK, "Comment updated", cmt)
}

func (api *qaApi) destroyComment(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteComment(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
