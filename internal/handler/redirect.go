package handler

import (
	"net/url"
	"strings"
)

// SafeRedirect はログイン後の遷移先として安全なローカルパスを返す。
// "/" で始まり、"//" や "/\" で始まらず、スキームやホストを含まない場合のみ受け付け、
// それ以外はfallbackを返す。
func SafeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return fallback
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	if strings.ContainsAny(target, "\r\n\t") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return target
}

// notice は画面上部に表示する一時メッセージの識別子。
// 任意文字列を表示しないよう、クエリには識別子のみを載せる。
type notice string

const (
	noticeLogoutFailed notice = "logout_failed"
	noticeJobStarted   notice = "job_started"
	noticeJobTimeout   notice = "job_timeout"
	noticeJobFailed    notice = "job_failed"
)

var noticeMessages = map[notice]string{
	noticeLogoutFailed: "로그아웃에 실패했습니다. 다시 시도해 주세요.",
	noticeJobStarted:   "리포트 업데이트를 요청했습니다.",
	noticeJobTimeout:   "요청 시간이 초과되었습니다. 작업은 백엔드에서 계속 진행될 수 있습니다.",
	noticeJobFailed:    "리포트 업데이트 요청에 실패했습니다.",
}

// noticeMessage はクエリの識別子に対応するメッセージを返す。未知の識別子は空文字。
func noticeMessage(q url.Values) string {
	return noticeMessages[notice(q.Get("notice"))]
}

// withNotice はパスにnoticeクエリを付与する。
func withNotice(path string, n notice) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "notice=" + url.QueryEscape(string(n))
}
