package portal

// Selectors are the XPath/CSS expressions the Chrome portal uses. Relative
// expressions start with "." and are evaluated against a row, pane or drawer.
type Selectors struct {
	Rows            string `yaml:"rows"`
	RowMenu         string `yaml:"row_menu"`
	RowCaret        string `yaml:"row_caret"`
	OverlayPane     string `yaml:"overlay_pane"`     // CSS
	OverlayBackdrop string `yaml:"overlay_backdrop"` // CSS
	DrawerOpen      string `yaml:"drawer_open"`
	DrawerClose     string `yaml:"drawer_close"`
	MenuGenerate    string `yaml:"menu_generate"`
	PDAReport       string `yaml:"pda_report"`
	AnyPDAButton    string `yaml:"any_pda_button"`
	FinalGenerate   string `yaml:"final_generate"`
	PanelGenerate   string `yaml:"panel_generate"`
	NextPage        string `yaml:"next_page"`
	PageSizeSelect  string `yaml:"page_size_select"`
	PageSizeOptions string `yaml:"page_size_options"`
}

const drawerOpen = "//div[contains(@class,'mat-drawer') and contains(@class,'mat-drawer-end') and contains(@class,'mat-drawer-opened')]"

// DefaultSelectors target the Angular Material people-management table.
func DefaultSelectors() Selectors {
	return Selectors{
		Rows: "//table//tbody//tr" +
			" | //div[contains(@class,'table')]//div[contains(@role,'row') and contains(@class,'body')]",
		RowMenu: ".//button[contains(@class,'mat-menu-trigger') or @aria-haspopup='menu' or contains(@class,'menu')]" +
			"[.//mat-icon[normalize-space()='more_vert'] or .//*[normalize-space()='more_vert']]",
		RowCaret:        ".//button[.//mat-icon[normalize-space()='keyboard_arrow_down']]",
		OverlayPane:     ".cdk-overlay-pane",
		OverlayBackdrop: ".cdk-overlay-backdrop",
		DrawerOpen:      drawerOpen,
		DrawerClose: ".//button[.//mat-icon[normalize-space()='close'] or .//mat-icon[normalize-space()='arrow_back']" +
			" or contains(@aria-label,'Close') or contains(@aria-label,'Cerrar')]",
		MenuGenerate: ".//button[contains(@class,'mat-menu-item')]" +
			"[.//span[normalize-space()='Generate'] or contains(normalize-space(.),'Generate')" +
			" or .//span[normalize-space()='Generar'] or contains(normalize-space(.),'Generar')]",
		PDAReport: "//span[contains(@class,'mat-button-wrapper') and normalize-space()='PDA Report']/ancestor::button[1]" +
			" | //span[contains(@class,'mat-button-wrapper') and normalize-space()='Reporte PDA']/ancestor::button[1]" +
			" | " + drawerOpen + "//button[.//span[normalize-space()='PDA Report'] or .//span[normalize-space()='Reporte PDA']]" +
			" | " + drawerOpen + "//button[contains(.,'PDA Report') or contains(.,'Reporte PDA')]",
		AnyPDAButton: drawerOpen + "//button[contains(.,'PDA')]",
		FinalGenerate: drawerOpen + "//button[contains(@class,'mat-flat-button')]" +
			"[.//span[normalize-space()='Generate'] or .//span[normalize-space()='Generar']]",
		PanelGenerate: "//button[.//span[normalize-space()='Generate'] or contains(normalize-space(.),'Generate')" +
			" or .//span[normalize-space()='Generar'] or contains(normalize-space(.),'Generar')]",
		NextPage: "//button[contains(@class,'mat-paginator-navigation-next') and not(@disabled)]" +
			" | //mat-paginator//button[contains(@aria-label,'Next') and not(@disabled)]" +
			" | //button[(contains(normalize-space(.),'Siguiente') or contains(normalize-space(.),'Next')) and not(@disabled)]",
		PageSizeSelect: "//mat-paginator//mat-select[contains(@class,'mat-paginator-page-size-select') or @aria-label='Items per page:']" +
			" | //mat-paginator//*[contains(normalize-space(.),'Items per page')]/following::*[self::mat-select or self::div or self::button][1]",
		PageSizeOptions: "//div[contains(@class,'cdk-overlay-pane')]//mat-option//span",
	}
}

// merge fills empty fields of s from def.
func (s Selectors) merge(def Selectors) Selectors {
	pick := func(v, d string) string {
		if v == "" {
			return d
		}
		return v
	}
	return Selectors{
		Rows:            pick(s.Rows, def.Rows),
		RowMenu:         pick(s.RowMenu, def.RowMenu),
		RowCaret:        pick(s.RowCaret, def.RowCaret),
		OverlayPane:     pick(s.OverlayPane, def.OverlayPane),
		OverlayBackdrop: pick(s.OverlayBackdrop, def.OverlayBackdrop),
		DrawerOpen:      pick(s.DrawerOpen, def.DrawerOpen),
		DrawerClose:     pick(s.DrawerClose, def.DrawerClose),
		MenuGenerate:    pick(s.MenuGenerate, def.MenuGenerate),
		PDAReport:       pick(s.PDAReport, def.PDAReport),
		AnyPDAButton:    pick(s.AnyPDAButton, def.AnyPDAButton),
		FinalGenerate:   pick(s.FinalGenerate, def.FinalGenerate),
		PanelGenerate:   pick(s.PanelGenerate, def.PanelGenerate),
		NextPage:        pick(s.NextPage, def.NextPage),
		PageSizeSelect:  pick(s.PageSizeSelect, def.PageSizeSelect),
		PageSizeOptions: pick(s.PageSizeOptions, def.PageSizeOptions),
	}
}
