package captcha

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const capmonsterTaskType = "NoCaptchaTaskProxyless"

type capmonsterTask struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
}

type createTaskRequest struct {
	ClientKey string         `json:"clientKey"`
	Task      capmonsterTask `json:"task"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
	} `json:"solution"`
}

// capmonster talks to the capmonster.cloud task API.
type capmonster struct {
	key  string
	http *resty.Client
	opts options
}

func (c *capmonster) Name() string { return "capmonster" }

func (c *capmonster) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	var created createTaskResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createTaskRequest{
			ClientKey: c.key,
			Task: capmonsterTask{
				Type:       capmonsterTaskType,
				WebsiteURL: pageURL,
				WebsiteKey: siteKey,
			},
		}).
		ForceContentType("application/json").
		SetResult(&created).
		Post("/createTask")
	if err != nil {
		return "", eris.Wrap(err, "captcha: capmonster create task")
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &APIError{Backend: c.Name(), StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if created.ErrorID != 0 {
		return "", eris.Errorf("captcha: capmonster create task: %s %s", created.ErrorCode, created.ErrorDescription)
	}

	return poll(ctx, c.opts, c.Name(), func(ctx context.Context) (string, bool, error) {
		var result taskResultResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(taskResultRequest{ClientKey: c.key, TaskID: created.TaskID}).
			ForceContentType("application/json").
			SetResult(&result).
			Post("/getTaskResult")
		if err != nil {
			return "", false, eris.Wrap(err, "captcha: capmonster poll")
		}
		if resp.StatusCode() != http.StatusOK {
			zap.L().Debug("capmonster poll not ok, retrying", zap.Int("status", resp.StatusCode()))
			return "", false, nil
		}
		if result.ErrorID != 0 {
			return "", false, eris.Errorf("captcha: capmonster task failed: %s %s", result.ErrorCode, result.ErrorDescription)
		}
		if result.Status != "ready" {
			return "", false, nil
		}
		return result.Solution.GRecaptchaResponse, true, nil
	})
}
