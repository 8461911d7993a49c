package cloud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/types"
	"go.uber.org/zap"
)

// Known errorMsg values of padTaskDetail.
const (
	MsgDownloadInterrupted = "文件下载失败 请求被中断，请重试"
	MsgDeviceOffline       = "任务已超时，当前设备状态为离线状态。"
)

// TaskDetail is one entry of padTaskDetail.
type TaskDetail struct {
	TaskID   int64
	PadCode  string
	Status   types.TaskStatus
	ErrorMsg string
}

// DownloadInterrupted reports the provider's transient download failure.
func (d TaskDetail) DownloadInterrupted() bool {
	return strings.Contains(d.ErrorMsg, MsgDownloadInterrupted)
}

// DeviceOffline reports that the task timed out because the pad is offline.
func (d TaskDetail) DeviceOffline() bool {
	return strings.Contains(d.ErrorMsg, MsgDeviceOffline)
}

// PadInfo is one pad of the account as listed by userPadList.
type PadInfo struct {
	PadCode        string    `json:"pad_code"`
	PadName        string    `json:"pad_name"`
	DeviceIP       string    `json:"device_ip"`
	PadIP          string    `json:"pad_ip"`
	CVMStatus      int       `json:"cvm_status"`
	Status         int       `json:"status"`
	AndroidVersion string    `json:"android_version"`
	GoodName       string    `json:"good_name"`
	SignExpiresAt  time.Time `json:"sign_expires_at"`
	BootTime       int64     `json:"boot_time"`
}

type InstalledApp struct {
	AppName     string `json:"appName"`
	PackageName string `json:"packageName"`
	AppState    int    `json:"appState"`
}

type taskRefWire struct {
	TaskID  int64  `json:"taskId"`
	PadCode string `json:"padCode"`
}

func toTaskRefs(wire []taskRefWire, kind types.TaskKind, op string) ([]types.TaskRef, error) {
	if len(wire) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyTaskList)
	}
	refs := make([]types.TaskRef, 0, len(wire))
	for _, w := range wire {
		refs = append(refs, types.TaskRef{TaskID: w.TaskID, PadCode: w.PadCode, Kind: kind})
	}
	return refs, nil
}

// ReplacePad resets pads onto a template. Completion arrives as a 1124 callback.
func (c *Client) ReplacePad(ctx context.Context, padCodes []string, templateID int) error {
	msg, err := c.post(ctx, "replacePad", map[string]any{
		"realPhoneTemplateId": templateID,
		"padCodes":            padCodes,
	}, nil)
	if err != nil {
		return err
	}
	c.logger.Info("replace pad requested", zap.Strings("pad_codes", padCodes), zap.Int("template_id", templateID), zap.String("msg", msg))
	return nil
}

// InstallApp downloads and installs an APK; one task per pad.
func (c *Client) InstallApp(ctx context.Context, padCodes []string, url, md5 string) ([]types.TaskRef, error) {
	var data []taskRefWire
	if _, err := c.post(ctx, "uploadFileV3", map[string]any{
		"padCodes":        padCodes,
		"autoInstall":     1,
		"url":             url,
		"isAuthorization": true,
		"md5":             md5,
	}, &data); err != nil {
		return nil, err
	}
	return toTaskRefs(data, types.KindInstallApp, "uploadFileV3")
}

func (c *Client) StartApp(ctx context.Context, padCodes []string, pkgName string) ([]types.TaskRef, error) {
	var data []taskRefWire
	if _, err := c.post(ctx, "startApp", map[string]any{
		"padCodes": padCodes,
		"pkgName":  pkgName,
	}, &data); err != nil {
		return nil, err
	}
	return toTaskRefs(data, types.KindStartApp, "startApp")
}

// SwitchRoot grants root to a single package.
func (c *Client) SwitchRoot(ctx context.Context, padCodes []string, pkgName string) error {
	_, err := c.post(ctx, "switchRoot", map[string]any{
		"padCodes":    padCodes,
		"packageName": pkgName,
		"rootStatus":  1,
		"globalRoot":  false,
	}, nil)
	return err
}

// Restart reboots pads. Completion arrives as a 1000 callback.
func (c *Client) Restart(ctx context.Context, padCodes []string) error {
	_, err := c.post(ctx, "restart", map[string]any{"padCodes": padCodes}, nil)
	return err
}

func (c *Client) UpdateLanguage(ctx context.Context, padCodes []string, language, country string) error {
	_, err := c.post(ctx, "updateLanguage", map[string]any{
		"language": language,
		"country":  country,
		"padCodes": padCodes,
	}, nil)
	return err
}

func (c *Client) UpdateTimeZone(ctx context.Context, padCodes []string, timeZone string) error {
	_, err := c.post(ctx, "updateTimeZone", map[string]any{
		"timeZone": timeZone,
		"padCodes": padCodes,
	}, nil)
	return err
}

func (c *Client) InjectGPS(ctx context.Context, padCodes []string, latitude, longitude float64) error {
	_, err := c.post(ctx, "gpsInjectInfo", map[string]any{
		"longitude": longitude,
		"latitude":  latitude,
		"padCodes":  padCodes,
	}, nil)
	return err
}

// PadTaskDetail fetches the state of tasks. Entries with a status code outside
// the known set fail the whole call with ErrMalformedResponse.
func (c *Client) PadTaskDetail(ctx context.Context, taskIDs []int64) ([]TaskDetail, error) {
	var data []struct {
		TaskID     int64  `json:"taskId"`
		PadCode    string `json:"padCode"`
		TaskStatus *int   `json:"taskStatus"`
		ErrorMsg   string `json:"errorMsg"`
	}
	if _, err := c.post(ctx, "padTaskDetail", map[string]any{"taskIds": taskIDs}, &data); err != nil {
		return nil, err
	}

	details := make([]TaskDetail, 0, len(data))
	for _, d := range data {
		if d.TaskStatus == nil {
			return nil, fmt.Errorf("%w: task %d has no taskStatus", ErrMalformedResponse, d.TaskID)
		}
		status, err := types.ParseTaskStatus(*d.TaskStatus)
		if err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrMalformedResponse, d.TaskID, err)
		}
		details = append(details, TaskDetail{
			TaskID:   d.TaskID,
			PadCode:  d.PadCode,
			Status:   status,
			ErrorMsg: d.ErrorMsg,
		})
	}
	return details, nil
}

// ListInstalledApps returns the installed apps of one pad, optionally filtered
// by appName.
func (c *Client) ListInstalledApps(ctx context.Context, padCode, appName string) ([]InstalledApp, error) {
	payload := map[string]any{"padCodes": []string{padCode}}
	if appName != "" {
		payload["appName"] = appName
	}
	var data []struct {
		PadCode string         `json:"padCode"`
		Apps    []InstalledApp `json:"apps"`
	}
	if _, err := c.post(ctx, "listInstalledApp", payload, &data); err != nil {
		return nil, err
	}
	for _, d := range data {
		if d.PadCode == "" || d.PadCode == padCode {
			return d.Apps, nil
		}
	}
	return nil, nil
}

// ListPads returns every pad of the account.
func (c *Client) ListPads(ctx context.Context) ([]PadInfo, error) {
	var data []struct {
		PadCode            string `json:"padCode"`
		PadName            string `json:"padName"`
		DeviceIP           string `json:"deviceIp"`
		PadIP              string `json:"padIp"`
		CVMStatus          int    `json:"cvmStatus"`
		Status             int    `json:"status"`
		AndroidVersion     string `json:"androidVersion"`
		GoodName           string `json:"goodName"`
		SignExpirationTime int64  `json:"signExpirationTime"`
		BootTime           int64  `json:"bootTime"`
	}
	if _, err := c.post(ctx, "userPadList", map[string]any{}, &data); err != nil {
		return nil, err
	}

	pads := make([]PadInfo, 0, len(data))
	for _, d := range data {
		if d.PadCode == "" {
			continue
		}
		info := PadInfo{
			PadCode:        d.PadCode,
			PadName:        d.PadName,
			DeviceIP:       d.DeviceIP,
			PadIP:          d.PadIP,
			CVMStatus:      d.CVMStatus,
			Status:         d.Status,
			AndroidVersion: d.AndroidVersion,
			GoodName:       d.GoodName,
			BootTime:       d.BootTime,
		}
		if d.SignExpirationTime > 0 {
			info.SignExpiresAt = time.UnixMilli(d.SignExpirationTime).UTC()
		}
		pads = append(pads, info)
	}
	return pads, nil
}

// SimulateTouch replays touch points on a width x height screen.
func (c *Client) SimulateTouch(ctx context.Context, padCodes []string, points []types.TouchPoint, width, height int) error {
	positions := make([]map[string]any, 0, len(points))
	for _, p := range points {
		positions = append(positions, map[string]any{
			"actionType":           int(p.Action),
			"x":                    p.X,
			"y":                    p.Y,
			"nextPositionWaitTime": p.Wait.Milliseconds(),
		})
	}
	_, err := c.post(ctx, "simulateTouch", map[string]any{
		"padCodes":  padCodes,
		"width":     width,
		"height":    height,
		"positions": positions,
	}, nil)
	return err
}
