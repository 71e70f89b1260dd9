package auth

// Decision は保護されたルートの描画判定。
type Decision int

const (
	// DecisionLoading は初回のセッション確認が未完了で、判定を保留する。
	DecisionLoading Decision = iota
	// DecisionRedirectLogin は未認証のためログイン画面へ遷移させる。
	DecisionRedirectLogin
	// DecisionForbidden は認証済みだが権限不足。リダイレクトせずアクセス拒否を表示する。
	DecisionForbidden
	// DecisionAuthorized は描画を許可する。
	DecisionAuthorized
)

// String はログ出力用の名前を返す。
func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionRedirectLogin:
		return "redirect_login"
	case DecisionForbidden:
		return "forbidden"
	case DecisionAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Decide は認証状態と管理者要求から描画判定を返す。
// Loading中はほかの条件にかかわらずDecisionLoadingを返し、未認証はrequireAdminに関係なくログインへ誘導する。
func Decide(state State, requireAdmin bool) Decision {
	if state.Loading {
		return DecisionLoading
	}
	if !state.IsAuthenticated() {
		return DecisionRedirectLogin
	}
	if requireAdmin && !state.IsAdmin() {
		return DecisionForbidden
	}
	return DecisionAuthorized
}
